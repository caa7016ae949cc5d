package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conciergestack/schedmate/internal/audit"
	"github.com/conciergestack/schedmate/internal/breaker"
	"github.com/conciergestack/schedmate/internal/conversation"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/store"
	"github.com/conciergestack/schedmate/internal/utils"
)

type fakePolicies struct {
	policy models.Policy
	err    error
}

func (f *fakePolicies) Get(ctx context.Context, principalID string) (models.Policy, error) {
	return f.policy, f.err
}

type fakeHistorian struct {
	history *models.SenderHistory
	err     error
}

func (f *fakeHistorian) History(ctx context.Context, principalID, sender string) (*models.SenderHistory, error) {
	return f.history, f.err
}

type fakeCalendar struct {
	availability *models.Availability
	err          error
	calls        int
}

func (f *fakeCalendar) CheckAvailability(ctx context.Context, principalID string, intervals []models.ProposedInterval) (*models.Availability, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.availability, nil
}

type fakeMailer struct {
	sent []models.OutboundEmail
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, principalID string, email models.OutboundEmail) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, email)
	return "out-msg-1", nil
}

type failingAuditStore struct {
	*store.MemoryStore
}

func (f *failingAuditStore) AppendEntry(ctx context.Context, entry *models.AuditEntry) error {
	return errors.New("ledger unavailable")
}

type fixture struct {
	st       store.Store
	policies *fakePolicies
	calendar *fakeCalendar
	mailer   *fakeMailer
	breaker  *breaker.Breaker
	pipeline *Pipeline
}

func newFixture(st store.Store) *fixture {
	logger := utils.NewLogger("error", false)
	f := &fixture{
		st: st,
		policies: &fakePolicies{policy: models.Policy{
			AutomationEnabled:           true,
			ConfidenceThreshold:         0.85,
			Cooldown:                    time.Hour,
			MaxConsecutiveLowConfidence: 3,
		}},
		calendar: &fakeCalendar{availability: &models.Availability{Available: true}},
		mailer:   &fakeMailer{},
	}
	f.breaker = breaker.New(logger, st)
	f.pipeline = NewPipeline(
		logger,
		NewScorer(DefaultWeights()),
		conversation.NewManager(logger, st, 14*24*time.Hour),
		f.breaker,
		audit.NewLedger(logger, st),
		&fakeHistorian{},
		f.policies,
		f.calendar,
		f.mailer,
	)
	return f
}

func schedulingRequest(confidence float64) models.DecisionRequest {
	start := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)
	return models.DecisionRequest{
		DecisionID:  "dec-1",
		PrincipalID: "principal-1",
		Subject:     "Coffee next week?",
		Body:        "Does Thursday 2pm work?",
		Classification: models.Classification{
			MessageID:           "msg-1",
			ThreadID:            "thread-1",
			Sender:              "alice@example.com",
			IsSchedulingRequest: true,
			Confidence:          confidence,
			Kind:                models.RequestKindInitial,
			Urgency:             models.UrgencyMedium,
			ProposedIntervals: []models.ProposedInterval{
				{Start: start, End: start.Add(time.Hour)},
			},
		},
	}
}

func ledgerEntries(t *testing.T, st store.AuditStore, principalID string) []*models.AuditEntry {
	t.Helper()
	entries, err := st.ListEntries(context.Background(), principalID, models.AuditFilter{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	return entries
}

func TestDecideAutoRespond(t *testing.T) {
	f := newFixture(store.NewMemoryStore())
	// Allow-listed sender lifts trust high enough for auto-send.
	f.policies.policy.AllowList = []string{"alice@example.com"}

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.95))

	if result.Action != models.DecisionAutoResponded {
		t.Fatalf("action = %s (%s), want auto_responded", result.Action, result.Reason)
	}
	if result.AuditID == "" {
		t.Fatal("auto-respond result missing audit id")
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("mailer sends = %d, want 1", len(f.mailer.sent))
	}
	if f.mailer.sent[0].To != "alice@example.com" {
		t.Errorf("reply addressed to %s", f.mailer.sent[0].To)
	}

	entries := ledgerEntries(t, f.st, "principal-1")
	if len(entries) != 1 || entries[0].Action != models.ActionSentEmail {
		t.Fatalf("ledger = %+v, want one sent_email entry", entries)
	}
	if entries[0].Assessment == nil || entries[0].CalendarSnapshot == nil {
		t.Error("sent_email entry missing assessment or calendar snapshot")
	}
	if entries[0].OutboundMessageID != "out-msg-1" {
		t.Errorf("outbound message id = %q", entries[0].OutboundMessageID)
	}

	conv, err := f.st.GetConversation(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Phase != models.PhaseAvailabilitySent {
		t.Errorf("conversation phase = %s, want availability_sent", conv.Phase)
	}
	if conv.Context["last_message_id"] != "out-msg-1" {
		t.Errorf("conversation context = %v", conv.Context)
	}
}

func TestDecideBorderlineEscalates(t *testing.T) {
	f := newFixture(store.NewMemoryStore())

	// Neutral trust and a valid interval land the overall score between
	// threshold-0.15 and threshold.
	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.90))

	if result.Action != models.DecisionPendingApproval {
		t.Fatalf("action = %s (%s), want pending_approval", result.Action, result.Reason)
	}
	if len(f.mailer.sent) != 0 {
		t.Fatal("escalated decision must not send email")
	}
	entries := ledgerEntries(t, f.st, "principal-1")
	if len(entries) != 1 || entries[0].Action != models.ActionEscalated {
		t.Fatalf("ledger = %+v, want one escalated entry", entries)
	}
	if entries[0].Assessment == nil {
		t.Error("escalated entry should carry the assessment")
	}
}

func TestDecideDenyListedDeclines(t *testing.T) {
	f := newFixture(store.NewMemoryStore())
	f.policies.policy.DenyList = []string{"alice@example.com"}

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.99))

	if result.Action != models.DecisionDeclined {
		t.Fatalf("action = %s (%s), want declined", result.Action, result.Reason)
	}
	if result.Reason != "sender is on the deny list" {
		t.Errorf("reason = %q", result.Reason)
	}
	entries := ledgerEntries(t, f.st, "principal-1")
	if len(entries) != 1 || entries[0].Action != models.ActionDeclinedRequest {
		t.Fatalf("ledger = %+v, want one declined_request entry", entries)
	}
}

func TestDecideIgnoredWritesNothing(t *testing.T) {
	f := newFixture(store.NewMemoryStore())

	req := schedulingRequest(0.95)
	req.Classification.IsSchedulingRequest = false
	result := f.pipeline.Decide(context.Background(), req)

	if result.Action != models.DecisionIgnored {
		t.Fatalf("action = %s, want ignored", result.Action)
	}
	if len(ledgerEntries(t, f.st, "principal-1")) != 0 {
		t.Error("ignored message must not be audited")
	}
	if _, err := f.st.GetConversation(context.Background(), "thread-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ignored message must not create a conversation, got %v", err)
	}
	if f.calendar.calls != 0 {
		t.Error("ignored message must not touch the calendar")
	}
}

func TestDecideAutomationDisabled(t *testing.T) {
	f := newFixture(store.NewMemoryStore())
	f.policies.policy.AutomationEnabled = false
	f.policies.policy.AllowList = []string{"alice@example.com"}

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.99))

	if result.Action != models.DecisionPendingApproval {
		t.Fatalf("action = %s, want pending_approval", result.Action)
	}
	if result.Reason != "automation disabled for principal" {
		t.Errorf("reason = %q", result.Reason)
	}
	if f.calendar.calls != 0 || len(f.mailer.sent) != 0 {
		t.Error("disabled automation must not reach collaborators")
	}
	entries := ledgerEntries(t, f.st, "principal-1")
	if len(entries) != 1 || entries[0].Action != models.ActionEscalated {
		t.Fatalf("ledger = %+v, want one escalated entry", entries)
	}
}

func TestDecideBreakerOpenEscalates(t *testing.T) {
	st := store.NewMemoryStore()
	f := newFixture(st)
	f.policies.policy.AllowList = []string{"alice@example.com"}

	err := st.SaveBreaker(context.Background(), &models.BreakerState{
		PrincipalID: "principal-1",
		Phase:       models.BreakerOpen,
		ReopenAt:    time.Now().Add(time.Hour),
	}, 0)
	if err != nil {
		t.Fatalf("SaveBreaker: %v", err)
	}

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.99))

	if result.Action != models.DecisionPendingApproval {
		t.Fatalf("action = %s, want pending_approval", result.Action)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("open breaker must block sending")
	}
}

func TestDecideLowConfidenceTripsBreaker(t *testing.T) {
	f := newFixture(store.NewMemoryStore())
	f.policies.policy.DenyList = []string{"alice@example.com"}

	for i := 0; i < 3; i++ {
		req := schedulingRequest(0.9)
		req.Classification.ThreadID = "thread-1"
		if result := f.pipeline.Decide(context.Background(), req); result.Action != models.DecisionDeclined {
			t.Fatalf("decision %d: action = %s", i, result.Action)
		}
	}

	open, err := f.breaker.IsOpen(context.Background(), "principal-1")
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if !open {
		t.Error("breaker should trip after max consecutive low-confidence decisions")
	}
}

func TestDecideUnauditedSendSurfaces(t *testing.T) {
	f := newFixture(&failingAuditStore{MemoryStore: store.NewMemoryStore()})
	f.policies.policy.AllowList = []string{"alice@example.com"}

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.95))

	if result.Action != models.DecisionError {
		t.Fatalf("action = %s, want error", result.Action)
	}
	if result.ErrorCode != CodeUnauditedAction {
		t.Errorf("error code = %s, want %s", result.ErrorCode, CodeUnauditedAction)
	}
	if len(f.mailer.sent) != 1 {
		t.Error("the send had already happened and must be reported as such")
	}
}

func TestDecideAuditFailureBeforeSend(t *testing.T) {
	f := newFixture(&failingAuditStore{MemoryStore: store.NewMemoryStore()})

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.90))

	if result.Action != models.DecisionError {
		t.Fatalf("action = %s, want error", result.Action)
	}
	if result.ErrorCode != CodeAuditWriteFailed {
		t.Errorf("error code = %s, want %s", result.ErrorCode, CodeAuditWriteFailed)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("no email may go out when the escalation cannot be recorded")
	}
}

func TestDecideCollaboratorFailure(t *testing.T) {
	f := newFixture(store.NewMemoryStore())
	f.policies.policy.AllowList = []string{"alice@example.com"}
	f.calendar.err = errors.New("calendar timeout")

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.95))

	if result.Action != models.DecisionError || result.ErrorCode != CodeCollaboratorFailure {
		t.Fatalf("result = %+v, want COLLABORATOR_FAILURE error", result)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("calendar failure must block the send")
	}

	// The aborted attempt still leaves a trace in the ledger.
	entries := ledgerEntries(t, f.st, "principal-1")
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Action != models.ActionEscalated {
		t.Errorf("ledger action = %s, want escalated", entries[0].Action)
	}
	if !strings.Contains(entries[0].Rationale, "calendar") {
		t.Errorf("rationale %q does not name the failed collaborator", entries[0].Rationale)
	}
	if result.AuditID != entries[0].ID {
		t.Errorf("result audit id = %s, want %s", result.AuditID, entries[0].ID)
	}
}

func TestDecideMailerFailureStillAudited(t *testing.T) {
	f := newFixture(store.NewMemoryStore())
	f.policies.policy.AllowList = []string{"alice@example.com"}
	f.mailer.err = errors.New("smtp relay unreachable")

	result := f.pipeline.Decide(context.Background(), schedulingRequest(0.95))

	if result.Action != models.DecisionError || result.ErrorCode != CodeCollaboratorFailure {
		t.Fatalf("result = %+v, want COLLABORATOR_FAILURE error", result)
	}

	entries := ledgerEntries(t, f.st, "principal-1")
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Rationale, "mailer") {
		t.Errorf("rationale %q does not name the failed collaborator", entries[0].Rationale)
	}
}

func TestDecideConfirmationAdvancesToConfirmed(t *testing.T) {
	st := store.NewMemoryStore()
	f := newFixture(st)
	f.policies.policy.AllowList = []string{"alice@example.com"}

	first := f.pipeline.Decide(context.Background(), schedulingRequest(0.95))
	if first.Action != models.DecisionAutoResponded {
		t.Fatalf("first decision = %s (%s)", first.Action, first.Reason)
	}

	confirm := schedulingRequest(0.95)
	confirm.Classification.Kind = models.RequestKindConfirmation
	confirm.Classification.ProposedIntervals = nil
	second := f.pipeline.Decide(context.Background(), confirm)
	if second.Action != models.DecisionAutoResponded {
		t.Fatalf("confirmation decision = %s (%s)", second.Action, second.Reason)
	}

	conv, err := st.GetConversation(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Phase != models.PhaseConfirmed {
		t.Errorf("conversation phase = %s, want confirmed", conv.Phase)
	}
	if conv.Turn != 3 {
		t.Errorf("conversation turn = %d, want 3", conv.Turn)
	}
}
