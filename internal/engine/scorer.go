package engine

import (
	"time"

	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/utils"
)

// Weights are the named sub-score weights. They are injected at
// construction so the scorer stays pure and its behaviour is fully
// characterised by its inputs.
type Weights struct {
	Intent              float64
	TimeParsing         float64
	SenderTrust         float64
	ConversationClarity float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Intent:              0.40,
		TimeParsing:         0.30,
		SenderTrust:         0.20,
		ConversationClarity: 0.10,
	}
}

// approvalBand is how far below the threshold a score may land and still be
// escalated for approval rather than declined. Borderline cases degrade to
// human review, not silent failure or silent auto-action.
const approvalBand = 0.15

// Scorer computes multi-factor confidence assessments. It performs no I/O
// and never fails on well-formed inputs.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// NewScorer constructs a Scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights, now: time.Now}
}

// Assess scores one classified message. senderHistory and conversation may
// be nil when unavailable; policy supplies the threshold and sender lists.
func (s *Scorer) Assess(c models.Classification, senderHistory *models.SenderHistory, conversation *models.ConversationState, policy models.Policy) models.ConfidenceAssessment {
	factors := models.ScoreFactors{
		AllowListed:       policy.Allowed(c.Sender),
		DenyListed:        policy.Denied(c.Sender),
		HasSenderHistory:  senderHistory != nil && senderHistory.TotalMessages > 0,
		RequestKind:       c.Kind,
		Urgency:           c.Urgency,
		IntervalCount:     len(c.ProposedIntervals),
		AllIntervalsValid: allIntervalsValid(c.ProposedIntervals),
	}
	if senderHistory != nil {
		factors.TrustTier = senderHistory.Tier
	}
	if conversation != nil {
		factors.ConversationPhase = conversation.Phase
		factors.Turn = conversation.Turn
	}

	assessment := models.ConfidenceAssessment{
		Intent:              s.intentScore(c),
		TimeParsing:         s.timeScore(c),
		SenderTrust:         s.trustScore(c, senderHistory, policy),
		ConversationClarity: s.clarityScore(conversation),
		Factors:             factors,
		CreatedAt:           s.now(),
	}

	assessment.Overall = clamp(
		assessment.Intent*s.weights.Intent+
			assessment.TimeParsing*s.weights.TimeParsing+
			assessment.SenderTrust*s.weights.SenderTrust+
			assessment.ConversationClarity*s.weights.ConversationClarity,
		0, 1)

	switch {
	case factors.DenyListed:
		// A deny-listed sender never gets an autonomous reply, whatever
		// the other factors add up to.
		assessment.Recommendation = models.RecommendDecline
	case assessment.Overall >= policy.ConfidenceThreshold:
		assessment.Recommendation = models.RecommendAutoRespond
	case assessment.Overall >= policy.ConfidenceThreshold-approvalBand:
		assessment.Recommendation = models.RecommendRequestApproval
	default:
		assessment.Recommendation = models.RecommendDecline
	}
	return assessment
}

// intentScore starts from the classifier's own confidence. Confirmations
// get a small boost; urgent-but-uncertain messages are discounted because
// urgency correlates with misclassification.
func (s *Scorer) intentScore(c models.Classification) float64 {
	score := c.Confidence
	if c.Kind == models.RequestKindConfirmation {
		score += 0.10
	}
	if c.Urgency == models.UrgencyHigh && c.Confidence < 0.90 {
		score *= 0.90
	}
	return clamp(score, 0, 1)
}

// timeScore reflects how cleanly concrete times were extracted. A
// confirmation need not restate times, so its empty case scores higher.
func (s *Scorer) timeScore(c models.Classification) float64 {
	if len(c.ProposedIntervals) == 0 {
		if c.Kind == models.RequestKindConfirmation {
			return 0.7
		}
		return 0.3
	}

	score := 0.5
	if allIntervalsValid(c.ProposedIntervals) {
		score = 0.9
	}
	if n := len(c.ProposedIntervals); n >= 1 && n <= 5 {
		score += 0.1
	}
	return clamp(score, 0, 1)
}

// trustScore rates the sender. Allow/deny lists short-circuit everything
// else; otherwise the ledger-derived history shapes the score.
func (s *Scorer) trustScore(c models.Classification, history *models.SenderHistory, policy models.Policy) float64 {
	if policy.Allowed(c.Sender) {
		return 1.0
	}
	if policy.Denied(c.Sender) {
		return 0.0
	}
	if history == nil || history.TotalMessages == 0 {
		return 0.5
	}

	score := 0.6
	if history.SchedulingRequests > 0 {
		score += 0.3 * float64(history.CompletedSchedules) / float64(history.SchedulingRequests)
	}
	if history.TotalMessages > 10 {
		score += 0.1
	}
	if utils.WithinDays(history.LastInteraction, s.now(), 30) {
		score += 0.1
	}
	return clamp(score, 0, 1)
}

// clarityScore rates how legible the negotiation is. The turn-count
// penalty is evaluated last and overrides the phase base: long
// negotiations are less clear-cut whatever phase they reached.
func (s *Scorer) clarityScore(conversation *models.ConversationState) float64 {
	if conversation == nil {
		return 0.8
	}

	score := 0.8
	switch conversation.Phase {
	case models.PhaseAvailabilitySent:
		score = 0.9
	case models.PhaseConfirmed:
		score = 0.95
	case models.PhaseScheduled:
		score = 0.9
	}
	if conversation.Turn > 5 {
		score = 0.5
	}
	return score
}

func allIntervalsValid(intervals []models.ProposedInterval) bool {
	if len(intervals) == 0 {
		return false
	}
	for _, interval := range intervals {
		if !interval.Valid() {
			return false
		}
	}
	return true
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
