package models

import "time"

// AuditAction names what the engine did on behalf of the principal.
type AuditAction string

const (
	ActionSentEmail              AuditAction = "sent_email"
	ActionDeclinedRequest        AuditAction = "declined_request"
	ActionRequestedClarification AuditAction = "requested_clarification"
	ActionEscalated              AuditAction = "escalated"
)

// OverrideDecision is a human correction attached to an audit entry after
// the fact.
type OverrideDecision string

const (
	OverrideApproved        OverrideDecision = "approved"
	OverrideRetracted       OverrideDecision = "retracted"
	OverrideMarkedIncorrect OverrideDecision = "marked_incorrect"
)

// AuditEntry records one autonomous decision. The decision fields are
// immutable once written; only the override fields may be set later, and a
// later override replaces an earlier one rather than accumulating.
type AuditEntry struct {
	ID                string                `json:"id"`
	PrincipalID       string                `json:"principal_id"`
	DecisionID        string                `json:"decision_id,omitempty"`
	ConversationID    string                `json:"conversation_id,omitempty"`
	Sender            string                `json:"sender,omitempty"`
	Action            AuditAction           `json:"action"`
	Confidence        float64               `json:"confidence"`
	Rationale         string                `json:"rationale"`
	OutboundMessageID string                `json:"outbound_message_id,omitempty"`
	Assessment        *ConfidenceAssessment `json:"assessment,omitempty"`
	CalendarSnapshot  *Availability         `json:"calendar_snapshot,omitempty"`
	ContextSnapshot   map[string]string     `json:"context_snapshot,omitempty"`
	NotifiedAt        *time.Time            `json:"notified_at,omitempty"`
	Override          OverrideDecision      `json:"override,omitempty"`
	OverrideReason    string                `json:"override_reason,omitempty"`
	OverriddenAt      *time.Time            `json:"overridden_at,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// AuditFilter narrows ledger queries. Zero values leave a dimension open.
type AuditFilter struct {
	Actions       []AuditAction
	MinConfidence float64
	MaxConfidence float64 // 0 means unbounded
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// Matches reports whether an entry passes every populated filter dimension.
func (f AuditFilter) Matches(entry *AuditEntry) bool {
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if entry.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if entry.Confidence < f.MinConfidence {
		return false
	}
	if f.MaxConfidence > 0 && entry.Confidence > f.MaxConfidence {
		return false
	}
	if !f.Since.IsZero() && entry.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// AuditStats aggregates a principal's decisions over a trailing window.
type AuditStats struct {
	PrincipalID   string  `json:"principal_id"`
	WindowDays    int     `json:"window_days"`
	Total         int     `json:"total"`
	AutoSent      int     `json:"auto_sent"`
	Escalated     int     `json:"escalated"`
	Declined      int     `json:"declined"`
	AvgConfidence float64 `json:"avg_confidence"`
	OverrideRate  float64 `json:"override_rate"`
}

// SenderAggregate is the raw per-sender rollup an audit store computes for
// sender-history derivation.
type SenderAggregate struct {
	Total           int
	Scheduling      int
	Completed       int
	LastInteraction time.Time
}
