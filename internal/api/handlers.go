package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/conciergestack/schedmate/internal/audit"
	"github.com/conciergestack/schedmate/internal/breaker"
	"github.com/conciergestack/schedmate/internal/conversation"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/services"
	"github.com/conciergestack/schedmate/internal/store"
	"github.com/conciergestack/schedmate/internal/utils"
)

// Handler bundles the HTTP endpoints over the decision engine's services.
type Handler struct {
	logger          *slog.Logger
	decisions       *services.DecisionService
	ledger          *audit.Ledger
	breaker         *breaker.Breaker
	conversations   *conversation.Manager
	defaultCooldown time.Duration
}

// NewHandler constructs the endpoint set. defaultCooldown applies when a
// breaker override forces an open state.
func NewHandler(
	logger *slog.Logger,
	decisions *services.DecisionService,
	ledger *audit.Ledger,
	brk *breaker.Breaker,
	conversations *conversation.Manager,
	defaultCooldown time.Duration,
) *Handler {
	return &Handler{
		logger:          logger,
		decisions:       decisions,
		ledger:          ledger,
		breaker:         brk,
		conversations:   conversations,
		defaultCooldown: defaultCooldown,
	}
}

// Routes returns the full route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decisions", h.handleDecide)
	mux.HandleFunc("GET /v1/audit", h.handleAuditList)
	mux.HandleFunc("GET /v1/audit/stats", h.handleAuditStats)
	mux.HandleFunc("POST /v1/audit/{id}/override", h.handleAuditOverride)
	mux.HandleFunc("GET /v1/breaker/{principal}", h.handleBreakerState)
	mux.HandleFunc("POST /v1/breaker/{principal}/override", h.handleBreakerOverride)
	mux.HandleFunc("POST /v1/conversations/cleanup", h.handleConversationCleanup)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

type decideRequest struct {
	DecisionID  string         `json:"decision_id"`
	PrincipalID string         `json:"principal_id"`
	Message     models.Message `json:"message"`
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.decisions.ProcessMessage(r.Context(), services.ProcessRequest{
		DecisionID:  req.DecisionID,
		PrincipalID: req.PrincipalID,
		Message:     req.Message,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if result.Action == models.DecisionError {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, result)
}

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		h.writeError(w, http.StatusBadRequest, "principal_id is required")
		return
	}

	filter, err := auditFilterFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ledger.GetByPrincipal(r.Context(), principalID, filter)
	if err != nil {
		h.logger.Error("audit list failed", slog.String("principal_id", principalID), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		h.writeError(w, http.StatusBadRequest, "principal_id is required")
		return
	}
	windowDays := 0
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "window_days must be an integer")
			return
		}
		windowDays = parsed
	}

	stats, err := h.ledger.Statistics(r.Context(), principalID, windowDays)
	if err != nil {
		h.logger.Error("audit stats failed", slog.String("principal_id", principalID), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type overrideRequest struct {
	Decision models.OverrideDecision `json:"decision"`
	Reason   string                  `json:"reason"`
}

func (h *Handler) handleAuditOverride(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("id")
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.ledger.RecordOverride(r.Context(), entryID, req.Decision, req.Reason)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]string{"id": entryID, "override": string(req.Decision)})
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "audit entry not found")
	default:
		h.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) handleBreakerState(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("principal")
	state, err := h.breaker.State(r.Context(), principalID)
	if err != nil {
		h.logger.Error("breaker state failed", slog.String("principal_id", principalID), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "breaker lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

type breakerOverrideRequest struct {
	ForceClose bool `json:"force_close"`
}

func (h *Handler) handleBreakerOverride(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("principal")
	var req breakerOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.breaker.ManualOverride(r.Context(), principalID, req.ForceClose, h.defaultCooldown); err != nil {
		h.logger.Error("breaker override failed", slog.String("principal_id", principalID), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "breaker override failed")
		return
	}

	state, err := h.breaker.State(r.Context(), principalID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "breaker lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleConversationCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.conversations.CleanupExpired(r.Context())
	if err != nil {
		h.logger.Error("conversation cleanup failed", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func auditFilterFromQuery(r *http.Request) (models.AuditFilter, error) {
	var filter models.AuditFilter
	query := r.URL.Query()

	for _, action := range query["action"] {
		filter.Actions = append(filter.Actions, models.AuditAction(action))
	}
	if raw := query.Get("min_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errors.New("min_confidence must be a number")
		}
		filter.MinConfidence = parsed
	}
	if raw := query.Get("max_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errors.New("max_confidence must be a number")
		}
		filter.MaxConfidence = parsed
	}
	if raw := query.Get("since"); raw != "" {
		parsed, err := utils.ParseRFC3339(raw)
		if err != nil {
			return filter, errors.New("since must be RFC3339")
		}
		filter.Since = parsed
	}
	if raw := query.Get("until"); raw != "" {
		parsed, err := utils.ParseRFC3339(raw)
		if err != nil {
			return filter, errors.New("until must be RFC3339")
		}
		filter.Until = parsed
	}
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("limit must be an integer")
		}
		filter.Limit = parsed
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("offset must be an integer")
		}
		filter.Offset = parsed
	}
	return filter, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("response encode failed", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
