package classifier

import (
	"context"
	"strings"

	"github.com/conciergestack/schedmate/internal/models"
)

// keywordConfidenceCap keeps heuristic verdicts below any sane automation
// threshold, so the keyword classifier alone can gate but never auto-send.
const keywordConfidenceCap = 0.75

var schedulingKeywords = []string{
	"meet", "meeting", "schedule", "appointment", "call",
	"available", "availability", "calendar", "catch up", "sync",
	"reschedule", "time slot", "book",
}

var confirmationKeywords = []string{
	"confirm", "confirmed", "works for me", "sounds good", "see you",
	"that works", "looking forward",
}

var reschedulingKeywords = []string{
	"reschedule", "move our", "postpone", "push back", "different time",
}

var clarificationKeywords = []string{
	"which time", "what time", "not sure", "could you clarify", "did you mean",
}

var urgentKeywords = []string{"urgent", "asap", "as soon as possible", "today", "right away"}

// KeywordClassifier is a deterministic heuristic over lowercased message
// text. It never proposes concrete intervals.
type KeywordClassifier struct{}

// NewKeywordClassifier constructs the heuristic classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify never fails; absence of scheduling keywords yields a
// non-scheduling verdict.
func (c *KeywordClassifier) Classify(ctx context.Context, msg models.Message) (models.Classification, error) {
	text := strings.ToLower(msg.Subject + "\n" + msg.Body)

	cls := models.Classification{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		Kind:      models.RequestKindInitial,
		Urgency:   models.UrgencyLow,
	}

	hits := countHits(text, schedulingKeywords)
	if hits == 0 {
		return cls, nil
	}
	cls.IsSchedulingRequest = true
	cls.Confidence = 0.5 + 0.1*float64(hits)
	if cls.Confidence > keywordConfidenceCap {
		cls.Confidence = keywordConfidenceCap
	}

	switch {
	case countHits(text, reschedulingKeywords) > 0:
		cls.Kind = models.RequestKindRescheduling
	case countHits(text, clarificationKeywords) > 0:
		cls.Kind = models.RequestKindClarification
	case countHits(text, confirmationKeywords) > 0:
		cls.Kind = models.RequestKindConfirmation
	}

	switch {
	case countHits(text, urgentKeywords) > 0:
		cls.Urgency = models.UrgencyHigh
	case strings.Contains(text, "this week") || strings.Contains(text, "soon"):
		cls.Urgency = models.UrgencyMedium
	}

	return cls, nil
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}
