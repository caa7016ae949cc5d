package engine

import (
	"testing"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

func testPolicy() models.Policy {
	return models.Policy{
		AutomationEnabled:           true,
		ConfidenceThreshold:         0.85,
		Cooldown:                    time.Hour,
		MaxConsecutiveLowConfidence: 5,
	}
}

func validInterval() models.ProposedInterval {
	start := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)
	return models.ProposedInterval{Start: start, End: start.Add(time.Hour)}
}

func TestAssessHighConfidenceTrustedSender(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	scorer.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	cls := models.Classification{
		Sender:              "alice@example.com",
		IsSchedulingRequest: true,
		Confidence:          0.95,
		Kind:                models.RequestKindInitial,
		Urgency:             models.UrgencyMedium,
		ProposedIntervals:   []models.ProposedInterval{validInterval()},
	}
	history := &models.SenderHistory{
		Sender:             "alice@example.com",
		TotalMessages:      20,
		SchedulingRequests: 10,
		CompletedSchedules: 9,
		LastInteraction:    time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
		Tier:               models.TierVIP,
	}
	conv := &models.ConversationState{Phase: models.PhaseInitial, Turn: 1}

	a := scorer.Assess(cls, history, conv, testPolicy())

	if a.Recommendation != models.RecommendAutoRespond {
		t.Fatalf("recommendation = %s, want auto_respond (overall %.3f)", a.Recommendation, a.Overall)
	}
	if a.Overall < 0.85 {
		t.Fatalf("overall = %.3f, want >= threshold", a.Overall)
	}
	if a.TimeParsing != 1.0 {
		t.Errorf("time parsing = %.2f, want 1.0 for one valid interval", a.TimeParsing)
	}
	if !a.Factors.HasSenderHistory || a.Factors.TrustTier != models.TierVIP {
		t.Errorf("factors did not capture sender history: %+v", a.Factors)
	}
}

func TestAssessAllowListShortCircuitsTrust(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	policy := testPolicy()
	policy.AllowList = []string{"Boss@Example.com"}

	cls := models.Classification{Sender: "boss@example.com", IsSchedulingRequest: true, Confidence: 0.9}
	a := scorer.Assess(cls, nil, nil, policy)

	if a.SenderTrust != 1.0 {
		t.Fatalf("sender trust = %.2f, want 1.0 for allow-listed sender", a.SenderTrust)
	}
	if !a.Factors.AllowListed {
		t.Error("AllowListed factor not set")
	}
}

func TestAssessDenyListForcesDecline(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	policy := testPolicy()
	policy.DenyList = []string{"spam@example.com"}

	cls := models.Classification{
		Sender:              "spam@example.com",
		IsSchedulingRequest: true,
		Confidence:          0.99,
		ProposedIntervals:   []models.ProposedInterval{validInterval()},
	}
	a := scorer.Assess(cls, nil, nil, policy)

	if a.SenderTrust != 0.0 {
		t.Fatalf("sender trust = %.2f, want 0.0 for deny-listed sender", a.SenderTrust)
	}
	if a.Recommendation == models.RecommendAutoRespond {
		t.Errorf("deny-listed sender must not auto-respond (overall %.3f)", a.Overall)
	}
}

func TestAssessNoIntervalsPenalizedUnlessConfirmation(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	initial := models.Classification{Sender: "a@b.c", IsSchedulingRequest: true, Confidence: 0.9, Kind: models.RequestKindInitial}
	confirm := initial
	confirm.Kind = models.RequestKindConfirmation

	if got := scorer.Assess(initial, nil, nil, testPolicy()).TimeParsing; got != 0.3 {
		t.Errorf("initial with no intervals: time parsing = %.2f, want 0.3", got)
	}
	if got := scorer.Assess(confirm, nil, nil, testPolicy()).TimeParsing; got != 0.7 {
		t.Errorf("confirmation with no intervals: time parsing = %.2f, want 0.7", got)
	}
}

func TestAssessInvalidIntervalScoresLow(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	start := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)
	backward := models.ProposedInterval{Start: start, End: start.Add(-time.Hour)}

	cls := models.Classification{
		Sender:              "a@b.c",
		IsSchedulingRequest: true,
		Confidence:          0.9,
		ProposedIntervals:   []models.ProposedInterval{validInterval(), backward},
	}
	a := scorer.Assess(cls, nil, nil, testPolicy())

	if a.TimeParsing != 0.6 {
		t.Errorf("time parsing = %.2f, want 0.6 when one interval is malformed", a.TimeParsing)
	}
	if a.Factors.AllIntervalsValid {
		t.Error("AllIntervalsValid factor should be false")
	}
}

func TestAssessUrgentUncertainDiscounted(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	base := models.Classification{Sender: "a@b.c", IsSchedulingRequest: true, Confidence: 0.80, Urgency: models.UrgencyMedium}
	urgent := base
	urgent.Urgency = models.UrgencyHigh

	calm := scorer.Assess(base, nil, nil, testPolicy()).Intent
	rushed := scorer.Assess(urgent, nil, nil, testPolicy()).Intent
	if rushed >= calm {
		t.Errorf("urgent uncertain intent = %.3f, want below calm %.3f", rushed, calm)
	}
}

func TestAssessLongNegotiationLowersClarity(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	cls := models.Classification{Sender: "a@b.c", IsSchedulingRequest: true, Confidence: 0.9}

	short := &models.ConversationState{Phase: models.PhaseConfirmed, Turn: 2}
	long := &models.ConversationState{Phase: models.PhaseConfirmed, Turn: 6}

	if got := scorer.Assess(cls, nil, short, testPolicy()).ConversationClarity; got != 0.95 {
		t.Errorf("confirmed clarity = %.2f, want 0.95", got)
	}
	if got := scorer.Assess(cls, nil, long, testPolicy()).ConversationClarity; got != 0.5 {
		t.Errorf("turn>5 clarity = %.2f, want 0.5", got)
	}
}

func TestAssessRecommendationBands(t *testing.T) {
	// Weighting entirely on intent makes the overall score equal the
	// intent score, so the band edges can be pinned exactly.
	scorer := NewScorer(Weights{Intent: 1.0})
	policy := testPolicy()

	cases := []struct {
		confidence float64
		want       models.Recommendation
	}{
		{0.90, models.RecommendAutoRespond},
		{0.85, models.RecommendAutoRespond},
		{0.84, models.RecommendRequestApproval},
		{0.70, models.RecommendRequestApproval},
		{0.69, models.RecommendDecline},
		{0.10, models.RecommendDecline},
	}
	for _, tc := range cases {
		cls := models.Classification{Sender: "a@b.c", IsSchedulingRequest: true, Confidence: tc.confidence}
		got := scorer.Assess(cls, nil, nil, policy).Recommendation
		if got != tc.want {
			t.Errorf("confidence %.2f: recommendation = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

func TestAssessUnknownSenderNeutralTrust(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	cls := models.Classification{Sender: "new@example.com", IsSchedulingRequest: true, Confidence: 0.9}

	if got := scorer.Assess(cls, nil, nil, testPolicy()).SenderTrust; got != 0.5 {
		t.Errorf("trust with no history = %.2f, want 0.5", got)
	}
	empty := &models.SenderHistory{Sender: "new@example.com"}
	if got := scorer.Assess(cls, empty, nil, testPolicy()).SenderTrust; got != 0.5 {
		t.Errorf("trust with empty history = %.2f, want 0.5", got)
	}
}
