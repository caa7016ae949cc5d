package models

import (
	"strings"
	"time"
)

// Policy holds the per-principal automation knobs consulted on every
// decision.
type Policy struct {
	AutomationEnabled           bool          `json:"automation_enabled"`
	ConfidenceThreshold         float64       `json:"confidence_threshold"`
	AllowList                   []string      `json:"allow_list,omitempty"`
	DenyList                    []string      `json:"deny_list,omitempty"`
	Cooldown                    time.Duration `json:"cooldown"`
	MaxConsecutiveLowConfidence int           `json:"max_consecutive_low_confidence"`
}

// Allowed reports whether sender is on the policy allow-list.
func (p Policy) Allowed(sender string) bool { return containsFold(p.AllowList, sender) }

// Denied reports whether sender is on the policy deny-list.
func (p Policy) Denied(sender string) bool { return containsFold(p.DenyList, sender) }

func containsFold(list []string, target string) bool {
	for _, v := range list {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// Availability is the calendar collaborator's answer for a set of proposed
// intervals.
type Availability struct {
	Available             bool               `json:"available"`
	Conflicts             []ProposedInterval `json:"conflicts,omitempty"`
	SuggestedAlternatives []ProposedInterval `json:"suggested_alternatives,omitempty"`
}

// OutboundEmail is a drafted reply handed to the mailer collaborator.
type OutboundEmail struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// DecisionAction is the terminal outcome of processing one message.
type DecisionAction string

const (
	DecisionIgnored         DecisionAction = "ignored"
	DecisionAutoResponded   DecisionAction = "auto_responded"
	DecisionPendingApproval DecisionAction = "pending_approval"
	DecisionDeclined        DecisionAction = "declined"
	DecisionError           DecisionAction = "error"
)

// DecisionRequest carries one classified message into the orchestrator.
type DecisionRequest struct {
	DecisionID     string
	PrincipalID    string
	Subject        string
	Body           string
	Classification Classification
}

// DecisionResult is the orchestrator's terminal answer for one message.
type DecisionResult struct {
	Action     DecisionAction `json:"action"`
	Confidence float64        `json:"confidence,omitempty"`
	Reason     string         `json:"reason"`
	AuditID    string         `json:"audit_id,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Err        string         `json:"error,omitempty"`
}
