package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conciergestack/schedmate/internal/cache"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/store"
)

// Historian derives sender reputation from the audit ledger on demand.
// Results are cached because the rollup is read on every decision while the
// underlying ledger changes at most once per decision.
type Historian struct {
	logger     *slog.Logger
	store      store.AuditStore
	cache      cache.Provider
	windowDays int
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewHistorian constructs a Historian with the given trailing window.
func NewHistorian(logger *slog.Logger, st store.AuditStore, cacheProvider cache.Provider, windowDays int, cacheTTL time.Duration) *Historian {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if windowDays <= 0 {
		windowDays = 180
	}
	return &Historian{
		logger:     logger,
		store:      st,
		cache:      cacheProvider,
		windowDays: windowDays,
		cacheTTL:   cacheTTL,
		now:        time.Now,
	}
}

// History returns the sender's track record with the principal.
func (h *Historian) History(ctx context.Context, principalID, sender string) (*models.SenderHistory, error) {
	key := cache.Key("history", principalID, sender)
	if cached, err := h.cache.Get(ctx, key); err == nil {
		var history models.SenderHistory
		if err := json.Unmarshal(cached, &history); err == nil {
			return &history, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		h.logger.Warn("history cache read failed", slog.Any("error", err))
	}

	since := h.now().AddDate(0, 0, -h.windowDays)
	agg, err := h.store.AggregateSender(ctx, principalID, sender, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate sender history: %w", err)
	}

	history := &models.SenderHistory{
		Sender:             sender,
		TotalMessages:      agg.Total,
		SchedulingRequests: agg.Scheduling,
		CompletedSchedules: agg.Completed,
		LastInteraction:    agg.LastInteraction,
		Tier:               tierFor(agg),
	}

	if payload, err := json.Marshal(history); err == nil {
		if err := h.cache.Set(ctx, key, payload, h.cacheTTL); err != nil {
			h.logger.Warn("history cache write failed", slog.Any("error", err))
		}
	}
	return history, nil
}

// tierFor buckets a sender by completed-schedule volume and reliability.
func tierFor(agg models.SenderAggregate) models.TrustTier {
	switch {
	case agg.Total == 0:
		return models.TierUnknown
	case agg.Completed >= 10 && agg.Scheduling > 0 && float64(agg.Completed)/float64(agg.Scheduling) >= 0.8:
		return models.TierVIP
	case agg.Completed >= 3:
		return models.TierTrusted
	default:
		return models.TierKnown
	}
}
