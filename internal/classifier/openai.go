package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/utils"
)

const classifyPrompt = `Analyze the following email and decide whether it is a scheduling request.

Return a JSON object with this exact structure and nothing else:
{
    "is_scheduling_request": true,
    "confidence": 0.0,
    "request_kind": "initial|confirmation|rescheduling|clarification",
    "urgency": "low|medium|high",
    "proposed_times": [{"start": "RFC3339", "end": "RFC3339"}]
}

confidence is your certainty in the verdict, between 0 and 1. proposed_times
lists every concrete time window the sender suggests, in the email's own
timezone, empty when none are stated.

Subject: %s

Body:
%s`

type openAIVerdict struct {
	IsSchedulingRequest bool    `json:"is_scheduling_request"`
	Confidence          float64 `json:"confidence"`
	RequestKind         string  `json:"request_kind"`
	Urgency             string  `json:"urgency"`
	ProposedTimes       []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"proposed_times"`
}

// OpenAIClassifier asks a chat model for a structured verdict and falls back
// to the keyword heuristic when the model is unreachable or returns
// something unparseable.
type OpenAIClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	fallback    *KeywordClassifier
	logger      *slog.Logger
}

// NewOpenAIClassifier constructs the model-backed classifier.
func NewOpenAIClassifier(logger *slog.Logger, apiKey, model string, maxTokens int, temperature float64) *OpenAIClassifier {
	return &OpenAIClassifier{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    NewKeywordClassifier(),
		logger:      logger,
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, msg models.Message) (models.Classification, error) {
	prompt := fmt.Sprintf(classifyPrompt, msg.Subject, msg.Body)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Warn("model classification failed, using keyword fallback",
			"message_id", msg.ID, "error", err)
		return c.fallback.Classify(ctx, msg)
	}

	var verdict openAIVerdict
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		c.logger.Warn("unparseable model verdict, using keyword fallback",
			"message_id", msg.ID, "error", err)
		return c.fallback.Classify(ctx, msg)
	}

	return c.toClassification(msg, verdict), nil
}

func (c *OpenAIClassifier) toClassification(msg models.Message, verdict openAIVerdict) models.Classification {
	cls := models.Classification{
		MessageID:           msg.ID,
		ThreadID:            msg.ThreadID,
		Sender:              msg.Sender,
		IsSchedulingRequest: verdict.IsSchedulingRequest,
		Confidence:          clampConfidence(verdict.Confidence),
		Kind:                parseKind(verdict.RequestKind),
		Urgency:             parseUrgency(verdict.Urgency),
	}

	for _, window := range verdict.ProposedTimes {
		start, err := utils.ParseRFC3339(window.Start)
		if err != nil {
			c.logger.Warn("dropping unparseable proposed time",
				"message_id", msg.ID, "start", window.Start)
			continue
		}
		end, err := utils.ParseRFC3339(window.End)
		if err != nil {
			c.logger.Warn("dropping unparseable proposed time",
				"message_id", msg.ID, "end", window.End)
			continue
		}
		cls.ProposedIntervals = append(cls.ProposedIntervals, models.ProposedInterval{Start: start, End: end})
	}
	return cls
}

func parseKind(kind string) models.RequestKind {
	switch strings.ToLower(kind) {
	case "confirmation":
		return models.RequestKindConfirmation
	case "rescheduling":
		return models.RequestKindRescheduling
	case "clarification":
		return models.RequestKindClarification
	default:
		return models.RequestKindInitial
	}
}

func parseUrgency(urgency string) models.Urgency {
	switch strings.ToLower(urgency) {
	case "high":
		return models.UrgencyHigh
	case "medium":
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
