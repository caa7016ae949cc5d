package models

import "time"

// BreakerPhase is the per-principal circuit breaker state.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// BreakerState tracks consecutive low-confidence outcomes for one principal.
// While Phase is open, autonomous action is blocked until ReopenAt passes.
type BreakerState struct {
	PrincipalID       string       `json:"principal_id"`
	Phase             BreakerPhase `json:"phase"`
	Consecutive       int          `json:"consecutive"`
	LastLowConfidence time.Time    `json:"last_low_confidence,omitempty"`
	ReopenAt          time.Time    `json:"reopen_at,omitempty"`
	ManualOverride    bool         `json:"manual_override"`
	Version           int64        `json:"version"`
}

// Clone returns a copy safe for mutation.
func (b *BreakerState) Clone() *BreakerState {
	dup := *b
	return &dup
}
