// Package classifier turns raw inbound messages into structured scheduling
// classifications. Two implementations exist: an OpenAI-backed one and a
// keyword heuristic used as fallback and in tests.
package classifier

import (
	"context"

	"github.com/conciergestack/schedmate/internal/models"
)

// Classifier extracts intent, urgency and proposed times from one message.
type Classifier interface {
	Classify(ctx context.Context, msg models.Message) (models.Classification, error)
}
