package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conciergestack/schedmate/internal/audit"
	"github.com/conciergestack/schedmate/internal/breaker"
	"github.com/conciergestack/schedmate/internal/conversation"
	"github.com/conciergestack/schedmate/internal/engine"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/policy"
	"github.com/conciergestack/schedmate/internal/services"
	"github.com/conciergestack/schedmate/internal/store"
	"github.com/conciergestack/schedmate/internal/utils"
)

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, msg models.Message) (models.Classification, error) {
	start := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)
	return models.Classification{
		MessageID:           msg.ID,
		ThreadID:            msg.ThreadID,
		Sender:              msg.Sender,
		IsSchedulingRequest: true,
		Confidence:          0.95,
		Kind:                models.RequestKindInitial,
		Urgency:             models.UrgencyMedium,
		ProposedIntervals:   []models.ProposedInterval{{Start: start, End: start.Add(time.Hour)}},
	}, nil
}

type stubCalendar struct{}

func (stubCalendar) CheckAvailability(ctx context.Context, principalID string, intervals []models.ProposedInterval) (*models.Availability, error) {
	return &models.Availability{Available: true}, nil
}

type stubMailer struct{}

func (stubMailer) Send(ctx context.Context, principalID string, email models.OutboundEmail) (string, error) {
	return "out-1", nil
}

type stubHistorian struct{}

func (stubHistorian) History(ctx context.Context, principalID, sender string) (*models.SenderHistory, error) {
	return nil, nil
}

func newTestHandler(st store.Store) *Handler {
	logger := utils.NewLogger("error", false)
	ledger := audit.NewLedger(logger, st)
	brk := breaker.New(logger, st)
	conversations := conversation.NewManager(logger, st, time.Hour)
	pipeline := engine.NewPipeline(
		logger,
		engine.NewScorer(engine.DefaultWeights()),
		conversations,
		brk,
		ledger,
		stubHistorian{},
		policy.NewStatic(models.Policy{
			AutomationEnabled:           true,
			ConfidenceThreshold:         0.85,
			AllowList:                   []string{"alice@example.com"},
			Cooldown:                    time.Hour,
			MaxConsecutiveLowConfidence: 3,
		}),
		stubCalendar{},
		stubMailer{},
	)
	decisions := services.NewDecisionService(logger, stubClassifier{}, pipeline, nil)
	return NewHandler(logger, decisions, ledger, brk, conversations, time.Hour)
}

func doRequest(t *testing.T, h *Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestDecideEndpoint(t *testing.T) {
	h := newTestHandler(store.NewMemoryStore())

	rec := doRequest(t, h, http.MethodPost, "/v1/decisions", `{
		"principal_id": "principal-1",
		"message": {"id": "msg-1", "thread_id": "thread-1", "sender": "alice@example.com", "subject": "Coffee?", "body": "Thursday 2pm?"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result models.DecisionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Action != models.DecisionAutoResponded {
		t.Errorf("action = %s (%s)", result.Action, result.Reason)
	}
	if result.AuditID == "" {
		t.Error("response missing audit id")
	}
}

func TestDecideEndpointBadRequest(t *testing.T) {
	h := newTestHandler(store.NewMemoryStore())

	if rec := doRequest(t, h, http.MethodPost, "/v1/decisions", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/v1/decisions", `{"message": {"id": "m", "body": "x"}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing principal: status = %d, want 400", rec.Code)
	}
}

func TestAuditListAndStats(t *testing.T) {
	h := newTestHandler(store.NewMemoryStore())

	rec := doRequest(t, h, http.MethodPost, "/v1/decisions", `{
		"principal_id": "principal-1",
		"message": {"id": "msg-1", "thread_id": "thread-1", "sender": "alice@example.com", "body": "Thursday 2pm?"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed decision failed: %s", rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/audit?principal_id=principal-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit list status = %d", rec.Code)
	}
	var list struct {
		Entries []*models.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Action != models.ActionSentEmail {
		t.Fatalf("entries = %+v", list.Entries)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/audit/stats?principal_id=principal-1&window_days=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit stats status = %d", rec.Code)
	}
	var stats models.AuditStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.AutoSent != 1 || stats.WindowDays != 7 {
		t.Errorf("stats = %+v", stats)
	}

	if rec := doRequest(t, h, http.MethodGet, "/v1/audit", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing principal_id: status = %d, want 400", rec.Code)
	}
}

func TestAuditOverrideEndpoint(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(st)

	rec := doRequest(t, h, http.MethodPost, "/v1/decisions", `{
		"principal_id": "principal-1",
		"message": {"id": "msg-1", "thread_id": "thread-1", "sender": "alice@example.com", "body": "Thursday 2pm?"}
	}`)
	var result models.DecisionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode decision: %v", err)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/audit/"+result.AuditID+"/override",
		`{"decision": "marked_incorrect", "reason": "wrong slot"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, body = %s", rec.Code, rec.Body.String())
	}

	entry, err := st.GetEntry(context.Background(), result.AuditID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if entry.Override != models.OverrideMarkedIncorrect || entry.OverrideReason != "wrong slot" {
		t.Errorf("entry override = %+v", entry)
	}

	if rec := doRequest(t, h, http.MethodPost, "/v1/audit/nope/override", `{"decision": "approved"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry: status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/v1/audit/"+result.AuditID+"/override", `{"decision": "bogus"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad decision: status = %d, want 400", rec.Code)
	}
}

func TestBreakerEndpoints(t *testing.T) {
	h := newTestHandler(store.NewMemoryStore())

	rec := doRequest(t, h, http.MethodGet, "/v1/breaker/principal-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("breaker state status = %d", rec.Code)
	}
	var state models.BreakerState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Phase != models.BreakerClosed {
		t.Errorf("phase = %s, want closed", state.Phase)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/breaker/principal-1/override", `{"force_close": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Phase != models.BreakerOpen {
		t.Errorf("phase after force-open = %s, want open", state.Phase)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/breaker/principal-1/override", `{"force_close": true}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Phase != models.BreakerClosed {
		t.Errorf("phase after force-close = %s, want closed", state.Phase)
	}
}

func TestCleanupAndHealth(t *testing.T) {
	h := newTestHandler(store.NewMemoryStore())

	rec := doRequest(t, h, http.MethodPost, "/v1/conversations/cleanup", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", rec.Code)
	}
	var cleanup map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &cleanup); err != nil {
		t.Fatalf("decode cleanup: %v", err)
	}
	if cleanup["removed"] != 0 {
		t.Errorf("removed = %d, want 0", cleanup["removed"])
	}

	if rec := doRequest(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}
