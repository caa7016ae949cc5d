// Package services hosts the decision service facade: validation, message
// hydration, classification, and dispatch into the decision pipeline.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conciergestack/schedmate/internal/classifier"
	"github.com/conciergestack/schedmate/internal/engine"
	"github.com/conciergestack/schedmate/internal/metrics"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/utils"
)

// MailboxFetcher retrieves full messages when a request carries only ids.
type MailboxFetcher interface {
	FetchMessage(ctx context.Context, principalID, messageID string) (*models.Message, error)
}

// ProcessRequest is one inbound message to decide on. Body may be empty
// when a mailbox collaborator is configured; the service hydrates it.
type ProcessRequest struct {
	DecisionID  string
	PrincipalID string
	Message     models.Message
}

// DecisionService fronts the decision pipeline for transport handlers.
type DecisionService struct {
	logger     *slog.Logger
	classifier classifier.Classifier
	pipeline   *engine.Pipeline
	mailbox    MailboxFetcher
	latencies  *utils.LatencyTracker
}

// NewDecisionService constructs the facade. mailbox may be nil when callers
// always supply full message bodies.
func NewDecisionService(logger *slog.Logger, cls classifier.Classifier, pipeline *engine.Pipeline, mailbox MailboxFetcher) *DecisionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionService{
		logger:     logger,
		classifier: cls,
		pipeline:   pipeline,
		mailbox:    mailbox,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// ProcessMessage runs one message through classification and the decision
// pipeline. Validation failures return an error; decision failures come
// back inside the result with an error code.
func (s *DecisionService) ProcessMessage(ctx context.Context, req ProcessRequest) (models.DecisionResult, error) {
	if req.PrincipalID == "" {
		return models.DecisionResult{}, fmt.Errorf("principal_id is required")
	}
	if req.Message.ID == "" && req.Message.Body == "" {
		return models.DecisionResult{}, fmt.Errorf("message id or body is required")
	}
	if req.DecisionID == "" {
		req.DecisionID = uuid.New().String()
	}

	msg := req.Message
	if msg.Body == "" && s.mailbox != nil {
		fetched, err := s.mailbox.FetchMessage(ctx, req.PrincipalID, msg.ID)
		if err != nil {
			return models.DecisionResult{}, fmt.Errorf("fetch message %s: %w", msg.ID, err)
		}
		msg = *fetched
	}

	cls, err := s.classifier.Classify(ctx, msg)
	if err != nil {
		return models.DecisionResult{}, fmt.Errorf("classify message %s: %w", msg.ID, err)
	}

	start := time.Now()
	result := s.pipeline.Decide(ctx, models.DecisionRequest{
		DecisionID:     req.DecisionID,
		PrincipalID:    req.PrincipalID,
		Subject:        msg.Subject,
		Body:           msg.Body,
		Classification: cls,
	})
	duration := time.Since(start)

	metrics.ObserveDecision(duration, string(result.Action), result.Confidence)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("decision latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	s.logger.Debug("decision complete",
		slog.String("decision_id", req.DecisionID),
		slog.String("principal_id", req.PrincipalID),
		slog.String("action", string(result.Action)),
		slog.Float64("confidence", result.Confidence))
	return result, nil
}

// LatencyP95 returns the current p95 decision latency.
func (s *DecisionService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}
