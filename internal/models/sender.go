package models

import "time"

// TrustTier buckets senders by their track record with the principal.
type TrustTier string

const (
	TierVIP     TrustTier = "vip"
	TierTrusted TrustTier = "trusted"
	TierKnown   TrustTier = "known"
	TierUnknown TrustTier = "unknown"
)

// SenderHistory summarises a sender's past interactions with a principal.
// It is derived from the audit ledger on demand, never stored directly.
type SenderHistory struct {
	Sender             string    `json:"sender"`
	TotalMessages      int       `json:"total_messages"`
	SchedulingRequests int       `json:"scheduling_requests"`
	CompletedSchedules int       `json:"completed_schedules"`
	LastInteraction    time.Time `json:"last_interaction,omitempty"`
	Tier               TrustTier `json:"tier"`
}
