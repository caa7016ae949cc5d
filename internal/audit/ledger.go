// Package audit owns the append-only decision ledger: the system's
// accountability record. Every autonomous outcome is logged, including the
// decision not to act.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/store"
)

// Ledger appends and queries audit entries.
type Ledger struct {
	logger *slog.Logger
	store  store.AuditStore
	now    func() time.Time

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(logger *slog.Logger, st store.AuditStore) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger:  logger,
		store:   st,
		now:     time.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Log appends one immutable entry and returns its identifier. ULIDs keep
// the ledger lexically ordered by creation time.
func (l *Ledger) Log(ctx context.Context, entry *models.AuditEntry) (string, error) {
	if entry.PrincipalID == "" {
		return "", fmt.Errorf("audit entry requires a principal id")
	}
	if entry.Action == "" {
		return "", fmt.Errorf("audit entry requires an action")
	}

	now := l.now()
	entry.CreatedAt = now
	entry.ID = l.newID(now)

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("append audit entry: %w", err)
	}

	l.logger.Debug("audit entry recorded",
		slog.String("id", entry.ID),
		slog.String("principal_id", entry.PrincipalID),
		slog.String("action", string(entry.Action)),
		slog.Float64("confidence", entry.Confidence))
	return entry.ID, nil
}

// GetByPrincipal returns a principal's entries, newest-first, after
// applying the filter.
func (l *Ledger) GetByPrincipal(ctx context.Context, principalID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	entries, err := l.store.ListEntries(ctx, principalID, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// RecordOverride attaches a human correction to an existing entry. The
// original decision fields stay untouched; a later override replaces an
// earlier one.
func (l *Ledger) RecordOverride(ctx context.Context, entryID string, override models.OverrideDecision, reason string) error {
	switch override {
	case models.OverrideApproved, models.OverrideRetracted, models.OverrideMarkedIncorrect:
	default:
		return fmt.Errorf("unknown override decision %q", override)
	}
	if err := l.store.SetOverride(ctx, entryID, override, reason, l.now()); err != nil {
		return fmt.Errorf("record override: %w", err)
	}
	l.logger.Info("audit entry overridden",
		slog.String("id", entryID),
		slog.String("override", string(override)))
	return nil
}

// Statistics aggregates a principal's decisions over a trailing window of
// days. Feeds reporting and threshold tuning.
func (l *Ledger) Statistics(ctx context.Context, principalID string, windowDays int) (models.AuditStats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := l.now().AddDate(0, 0, -windowDays)

	entries, err := l.store.ListEntries(ctx, principalID, models.AuditFilter{Since: since})
	if err != nil {
		return models.AuditStats{}, fmt.Errorf("list audit entries: %w", err)
	}

	stats := models.AuditStats{PrincipalID: principalID, WindowDays: windowDays}
	var confidenceSum float64
	overridden := 0
	for _, entry := range entries {
		stats.Total++
		confidenceSum += entry.Confidence
		switch entry.Action {
		case models.ActionSentEmail:
			stats.AutoSent++
		case models.ActionEscalated, models.ActionRequestedClarification:
			stats.Escalated++
		case models.ActionDeclinedRequest:
			stats.Declined++
		}
		if entry.Override != "" {
			overridden++
		}
	}
	if stats.Total > 0 {
		stats.AvgConfidence = confidenceSum / float64(stats.Total)
		stats.OverrideRate = float64(overridden) / float64(stats.Total)
	}
	return stats, nil
}

func (l *Ledger) newID(now time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
}
