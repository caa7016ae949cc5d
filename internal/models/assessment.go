package models

import "time"

// Recommendation is the scorer's suggested handling for a message.
type Recommendation string

const (
	RecommendAutoRespond     Recommendation = "auto_respond"
	RecommendRequestApproval Recommendation = "request_approval"
	RecommendDecline         Recommendation = "decline"
)

// ScoreFactors snapshots the discrete inputs that shaped an assessment so a
// reviewer can reconstruct why a score came out the way it did.
type ScoreFactors struct {
	AllowListed       bool              `json:"allow_listed"`
	DenyListed        bool              `json:"deny_listed"`
	HasSenderHistory  bool              `json:"has_sender_history"`
	TrustTier         TrustTier         `json:"trust_tier,omitempty"`
	RequestKind       RequestKind       `json:"request_kind"`
	Urgency           Urgency           `json:"urgency"`
	IntervalCount     int               `json:"interval_count"`
	AllIntervalsValid bool              `json:"all_intervals_valid"`
	ConversationPhase ConversationPhase `json:"conversation_phase,omitempty"`
	Turn              int               `json:"turn"`
}

// ConfidenceAssessment is the immutable result of scoring one message.
type ConfidenceAssessment struct {
	Intent              float64        `json:"intent_score"`
	TimeParsing         float64        `json:"time_parsing_score"`
	SenderTrust         float64        `json:"sender_trust_score"`
	ConversationClarity float64        `json:"conversation_clarity_score"`
	Overall             float64        `json:"overall_confidence"`
	Recommendation      Recommendation `json:"recommendation"`
	Factors             ScoreFactors   `json:"factors"`
	CreatedAt           time.Time      `json:"created_at"`
}
