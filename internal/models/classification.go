package models

import "time"

// RequestKind distinguishes where a scheduling message sits in a negotiation.
type RequestKind string

const (
	RequestKindInitial       RequestKind = "initial"
	RequestKindConfirmation  RequestKind = "confirmation"
	RequestKindRescheduling  RequestKind = "rescheduling"
	RequestKindClarification RequestKind = "clarification"
)

// Urgency is the classifier's read of how time-sensitive a message is.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ProposedInterval is a candidate meeting slot extracted from a message.
type ProposedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the interval length; negative when End precedes Start.
func (p ProposedInterval) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Valid reports whether the interval has positive, sub-24-hour duration.
func (p ProposedInterval) Valid() bool {
	d := p.Duration()
	return d > 0 && d < 24*time.Hour
}

// Classification is the external classifier's verdict on one inbound message.
// It is produced once per message and never mutated by the decision core.
type Classification struct {
	MessageID           string             `json:"message_id"`
	ThreadID            string             `json:"thread_id"`
	Sender              string             `json:"sender"`
	IsSchedulingRequest bool               `json:"is_scheduling_request"`
	Confidence          float64            `json:"confidence"`
	Kind                RequestKind        `json:"request_kind"`
	Urgency             Urgency            `json:"urgency"`
	ProposedIntervals   []ProposedInterval `json:"proposed_intervals,omitempty"`
}

// Message is the raw inbound message handed to the classifier.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}
