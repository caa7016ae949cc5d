// Package engine implements the decision core: confidence scoring and the
// orchestration pipeline that turns one classified inbound message into a
// fully audited autonomous action.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conciergestack/schedmate/internal/audit"
	"github.com/conciergestack/schedmate/internal/breaker"
	"github.com/conciergestack/schedmate/internal/conversation"
	"github.com/conciergestack/schedmate/internal/metrics"
	"github.com/conciergestack/schedmate/internal/models"
)

// CalendarClient answers availability questions for a principal's calendar.
type CalendarClient interface {
	CheckAvailability(ctx context.Context, principalID string, intervals []models.ProposedInterval) (*models.Availability, error)
}

// MailerClient sends a drafted reply and returns the outbound message id.
type MailerClient interface {
	Send(ctx context.Context, principalID string, email models.OutboundEmail) (string, error)
}

// PolicyProvider resolves the automation policy for a principal.
type PolicyProvider interface {
	Get(ctx context.Context, principalID string) (models.Policy, error)
}

// SenderHistorian derives a sender's track record from past decisions.
type SenderHistorian interface {
	History(ctx context.Context, principalID, sender string) (*models.SenderHistory, error)
}

// Pipeline runs the full decision flow for one message. Safety ordering is
// fixed: policy and breaker gates come before any scoring, and every
// outbound send is paired with a ledger write.
type Pipeline struct {
	logger        *slog.Logger
	scorer        *Scorer
	conversations *conversation.Manager
	breaker       *breaker.Breaker
	ledger        *audit.Ledger
	historian     SenderHistorian
	policies      PolicyProvider
	calendar      CalendarClient
	mailer        MailerClient
	now           func() time.Time
}

// NewPipeline wires the decision pipeline.
func NewPipeline(
	logger *slog.Logger,
	scorer *Scorer,
	conversations *conversation.Manager,
	brk *breaker.Breaker,
	ledger *audit.Ledger,
	historian SenderHistorian,
	policies PolicyProvider,
	calendar CalendarClient,
	mailer MailerClient,
) *Pipeline {
	return &Pipeline{
		logger:        logger,
		scorer:        scorer,
		conversations: conversations,
		breaker:       brk,
		ledger:        ledger,
		historian:     historian,
		policies:      policies,
		calendar:      calendar,
		mailer:        mailer,
		now:           time.Now,
	}
}

// Decide processes one classified message end to end. It never panics and
// never sends without a matching ledger write attempt; failures come back as
// a DecisionError result with a machine-readable code.
func (p *Pipeline) Decide(ctx context.Context, req models.DecisionRequest) models.DecisionResult {
	cls := req.Classification

	if !cls.IsSchedulingRequest {
		p.logger.Debug("message ignored", "message_id", cls.MessageID, "sender", cls.Sender)
		return models.DecisionResult{
			Action: models.DecisionIgnored,
			Reason: "message is not a scheduling request",
		}
	}

	policy, err := p.policies.Get(ctx, req.PrincipalID)
	if err != nil {
		return p.failure(CodeCollaboratorFailure, "policy lookup failed", err)
	}

	conv, err := p.conversations.GetOrCreate(ctx, cls.ThreadID, req.PrincipalID)
	if err != nil {
		return p.failure(CodeCollaboratorFailure, "conversation lookup failed", err)
	}

	// Hard gates before any scoring: a disabled principal or an open
	// breaker must never reach the send path.
	if !policy.AutomationEnabled {
		return p.escalate(ctx, req, conv, nil, "automation disabled for principal")
	}

	open, err := p.breaker.IsOpen(ctx, req.PrincipalID)
	if err != nil {
		return p.failure(CodeCollaboratorFailure, "breaker state lookup failed", err)
	}
	if open {
		return p.escalate(ctx, req, conv, nil, "circuit breaker open, autonomous sending suspended")
	}

	history, err := p.historian.History(ctx, req.PrincipalID, cls.Sender)
	if err != nil {
		p.logger.Warn("sender history unavailable, scoring without it",
			"principal_id", req.PrincipalID, "sender", cls.Sender, "error", err)
		history = nil
	}

	assessment := p.scorer.Assess(cls, history, conv, policy)

	if assessment.Recommendation == models.RecommendAutoRespond {
		if err := p.breaker.RecordHighConfidence(ctx, req.PrincipalID); err != nil {
			p.logger.Warn("breaker success record failed", "principal_id", req.PrincipalID, "error", err)
		}
	} else {
		if err := p.breaker.RecordLowConfidence(ctx, req.PrincipalID,
			policy.MaxConsecutiveLowConfidence, policy.Cooldown); err != nil {
			p.logger.Warn("breaker low-confidence record failed", "principal_id", req.PrincipalID, "error", err)
		}
	}

	switch assessment.Recommendation {
	case models.RecommendAutoRespond:
		return p.autoRespond(ctx, req, conv, &assessment)
	case models.RecommendRequestApproval:
		reason := fmt.Sprintf("confidence %.2f below threshold %.2f, queued for approval",
			assessment.Overall, policy.ConfidenceThreshold)
		return p.escalate(ctx, req, conv, &assessment, reason)
	default:
		return p.decline(ctx, req, conv, &assessment, policy)
	}
}

// autoRespond runs the high-confidence path: calendar check, reply draft,
// send, ledger write, then conversation advance. Every step that can fail
// after the send maps to its own error code so operators can tell an
// unaudited send from an ordinary failure.
func (p *Pipeline) autoRespond(ctx context.Context, req models.DecisionRequest, conv *models.ConversationState, assessment *models.ConfidenceAssessment) models.DecisionResult {
	cls := req.Classification

	availability, err := p.calendar.CheckAvailability(ctx, req.PrincipalID, cls.ProposedIntervals)
	if err != nil {
		return p.abortAutoRespond(ctx, req, conv, assessment, "calendar check failed", err)
	}

	email := DraftReply(req, conv, availability)
	messageID, err := p.mailer.Send(ctx, req.PrincipalID, email)
	if err != nil {
		return p.abortAutoRespond(ctx, req, conv, assessment, "mailer send failed", err)
	}

	sentAt := p.now()
	entry := &models.AuditEntry{
		PrincipalID:       req.PrincipalID,
		DecisionID:        req.DecisionID,
		ConversationID:    cls.ThreadID,
		Sender:            cls.Sender,
		Action:            models.ActionSentEmail,
		Confidence:        assessment.Overall,
		Rationale:         rationaleFor(assessment),
		OutboundMessageID: messageID,
		Assessment:        assessment,
		CalendarSnapshot:  availability,
		ContextSnapshot:   snapshotContext(conv),
		NotifiedAt:        &sentAt,
	}
	auditID, err := p.ledger.Log(ctx, entry)
	if err != nil {
		// The email is already out. This is the one failure mode that
		// must page: an action exists with no record of it.
		werr := &AuditWriteError{SentMessageID: messageID, Err: err}
		metrics.ObserveAuditWriteFailure()
		p.logger.Error("unaudited action: send succeeded but ledger write failed",
			"principal_id", req.PrincipalID, "outbound_message_id", messageID, "error", err)
		return models.DecisionResult{
			Action:     models.DecisionError,
			Confidence: assessment.Overall,
			Reason:     "reply sent but audit write failed",
			ErrorCode:  werr.Code(),
			Err:        werr.Error(),
		}
	}

	updates := map[string]string{
		"last_action":      string(models.ActionSentEmail),
		"last_message_id":  messageID,
		"last_request":     string(cls.Kind),
		"last_audit_entry": auditID,
	}
	if to := nextPhaseFor(conv.Phase, cls.Kind); to != "" {
		if _, err := p.conversations.Transition(ctx, cls.ThreadID, to, updates); err != nil {
			if errors.Is(err, conversation.ErrInvalidTransition) {
				return models.DecisionResult{
					Action:     models.DecisionError,
					Confidence: assessment.Overall,
					Reason:     fmt.Sprintf("reply sent, but conversation cannot move from %s to %s", conv.Phase, to),
					AuditID:    auditID,
					ErrorCode:  CodeInvalidTransition,
					Err:        err.Error(),
				}
			}
			p.logger.Warn("conversation update failed after send",
				"thread_id", cls.ThreadID, "error", err)
		}
	} else if _, err := p.conversations.Touch(ctx, cls.ThreadID, updates); err != nil {
		p.logger.Warn("conversation touch failed after send", "thread_id", cls.ThreadID, "error", err)
	}

	p.logger.Info("auto-responded",
		"principal_id", req.PrincipalID,
		"thread_id", cls.ThreadID,
		"confidence", assessment.Overall,
		"audit_id", auditID)
	return models.DecisionResult{
		Action:     models.DecisionAutoResponded,
		Confidence: assessment.Overall,
		Reason:     rationaleFor(assessment),
		AuditID:    auditID,
	}
}

// abortAutoRespond handles a collaborator failing before any message went
// out. Nothing was sent, but the abort is still a decision: it gets an
// escalated ledger entry so the principal can see why no reply exists.
func (p *Pipeline) abortAutoRespond(ctx context.Context, req models.DecisionRequest, conv *models.ConversationState, assessment *models.ConfidenceAssessment, reason string, cause error) models.DecisionResult {
	cls := req.Classification

	entry := &models.AuditEntry{
		PrincipalID:     req.PrincipalID,
		DecisionID:      req.DecisionID,
		ConversationID:  cls.ThreadID,
		Sender:          cls.Sender,
		Action:          models.ActionEscalated,
		Confidence:      assessment.Overall,
		Rationale:       fmt.Sprintf("%s: %v", reason, cause),
		Assessment:      assessment,
		ContextSnapshot: snapshotContext(conv),
	}
	result := p.failure(CodeCollaboratorFailure, reason, cause)
	auditID, err := p.ledger.Log(ctx, entry)
	if err != nil {
		metrics.ObserveAuditWriteFailure()
		p.logger.Error("audit write failed recording collaborator failure",
			"principal_id", req.PrincipalID, "thread_id", cls.ThreadID, "error", err)
		return result
	}
	result.AuditID = auditID
	return result
}

// escalate records the message for human review. assessment is nil when a
// gate (disabled automation, open breaker) fired before scoring.
func (p *Pipeline) escalate(ctx context.Context, req models.DecisionRequest, conv *models.ConversationState, assessment *models.ConfidenceAssessment, reason string) models.DecisionResult {
	cls := req.Classification

	action := models.ActionEscalated
	if assessment != nil && cls.Kind == models.RequestKindClarification {
		action = models.ActionRequestedClarification
	}

	entry := &models.AuditEntry{
		PrincipalID:     req.PrincipalID,
		DecisionID:      req.DecisionID,
		ConversationID:  cls.ThreadID,
		Sender:          cls.Sender,
		Action:          action,
		Rationale:       reason,
		Assessment:      assessment,
		ContextSnapshot: snapshotContext(conv),
	}
	if assessment != nil {
		entry.Confidence = assessment.Overall
	}

	auditID, err := p.ledger.Log(ctx, entry)
	if err != nil {
		metrics.ObserveAuditWriteFailure()
		p.logger.Error("audit write failed on escalation",
			"principal_id", req.PrincipalID, "thread_id", cls.ThreadID, "error", err)
		return p.failure(CodeAuditWriteFailed, "audit write failed", err)
	}

	if _, err := p.conversations.Touch(ctx, cls.ThreadID, map[string]string{
		"last_action":      string(action),
		"last_audit_entry": auditID,
	}); err != nil {
		p.logger.Warn("conversation touch failed on escalation", "thread_id", cls.ThreadID, "error", err)
	}

	result := models.DecisionResult{
		Action:  models.DecisionPendingApproval,
		Reason:  reason,
		AuditID: auditID,
	}
	if assessment != nil {
		result.Confidence = assessment.Overall
	}
	return result
}

func (p *Pipeline) decline(ctx context.Context, req models.DecisionRequest, conv *models.ConversationState, assessment *models.ConfidenceAssessment, policy models.Policy) models.DecisionResult {
	cls := req.Classification
	reason := fmt.Sprintf("confidence %.2f well below threshold %.2f", assessment.Overall, policy.ConfidenceThreshold)
	if assessment.Factors.DenyListed {
		reason = "sender is on the deny list"
	}

	entry := &models.AuditEntry{
		PrincipalID:     req.PrincipalID,
		DecisionID:      req.DecisionID,
		ConversationID:  cls.ThreadID,
		Sender:          cls.Sender,
		Action:          models.ActionDeclinedRequest,
		Confidence:      assessment.Overall,
		Rationale:       reason,
		Assessment:      assessment,
		ContextSnapshot: snapshotContext(conv),
	}
	auditID, err := p.ledger.Log(ctx, entry)
	if err != nil {
		metrics.ObserveAuditWriteFailure()
		p.logger.Error("audit write failed on decline",
			"principal_id", req.PrincipalID, "thread_id", cls.ThreadID, "error", err)
		return p.failure(CodeAuditWriteFailed, "audit write failed", err)
	}

	if _, err := p.conversations.Touch(ctx, cls.ThreadID, map[string]string{
		"last_action":      string(models.ActionDeclinedRequest),
		"last_audit_entry": auditID,
	}); err != nil {
		p.logger.Warn("conversation touch failed on decline", "thread_id", cls.ThreadID, "error", err)
	}

	return models.DecisionResult{
		Action:     models.DecisionDeclined,
		Confidence: assessment.Overall,
		Reason:     reason,
		AuditID:    auditID,
	}
}

func (p *Pipeline) failure(code, reason string, err error) models.DecisionResult {
	p.logger.Error("decision failed", "code", code, "reason", reason, "error", err)
	return models.DecisionResult{
		Action:    models.DecisionError,
		Reason:    reason,
		ErrorCode: code,
		Err:       err.Error(),
	}
}

// nextPhaseFor maps a successful send onto the conversation graph. An empty
// return means the phase holds and only the turn advances.
func nextPhaseFor(from models.ConversationPhase, kind models.RequestKind) models.ConversationPhase {
	switch {
	case from == models.PhaseInitial:
		return models.PhaseAvailabilitySent
	case from == models.PhaseAvailabilitySent && kind == models.RequestKindConfirmation:
		return models.PhaseConfirmed
	case from == models.PhaseAvailabilitySent && kind == models.RequestKindClarification:
		return models.PhaseInitial
	case from == models.PhaseConfirmed:
		return models.PhaseScheduled
	}
	return ""
}

func rationaleFor(assessment *models.ConfidenceAssessment) string {
	return fmt.Sprintf("intent %.2f, time parsing %.2f, sender trust %.2f, clarity %.2f, overall %.2f",
		assessment.Intent, assessment.TimeParsing, assessment.SenderTrust,
		assessment.ConversationClarity, assessment.Overall)
}

func snapshotContext(conv *models.ConversationState) map[string]string {
	if conv == nil || len(conv.Context) == 0 {
		return nil
	}
	snapshot := make(map[string]string, len(conv.Context))
	for k, v := range conv.Context {
		snapshot[k] = v
	}
	return snapshot
}
