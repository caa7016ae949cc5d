package models

import "time"

// ConversationPhase tracks where a multi-turn scheduling negotiation stands.
type ConversationPhase string

const (
	PhaseInitial          ConversationPhase = "initial"
	PhaseAvailabilitySent ConversationPhase = "availability_sent"
	PhaseConfirmed        ConversationPhase = "confirmed"
	PhaseScheduled        ConversationPhase = "scheduled"
	PhaseClosed           ConversationPhase = "closed"
)

// ConversationState is the per-thread negotiation record. Updates go through
// the conversation manager, which enforces the transition graph and bumps
// Version on every write so stale writers fail instead of clobbering state.
type ConversationState struct {
	ThreadID         string            `json:"thread_id"`
	PrincipalID      string            `json:"principal_id"`
	Phase            ConversationPhase `json:"phase"`
	Turn             int               `json:"turn"`
	ActiveDecisionID string            `json:"active_decision_id,omitempty"`
	Context          map[string]string `json:"context,omitempty"`
	LastActivity     time.Time         `json:"last_activity"`
	ExpiresAt        time.Time         `json:"expires_at"`
	Version          int64             `json:"version"`
}

// Expired reports whether the conversation's expiry deadline has passed.
func (c *ConversationState) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's record.
func (c *ConversationState) Clone() *ConversationState {
	dup := *c
	if c.Context != nil {
		dup.Context = make(map[string]string, len(c.Context))
		for k, v := range c.Context {
			dup.Context[k] = v
		}
	}
	return &dup
}
