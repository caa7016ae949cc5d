// Package breaker implements the per-principal safety circuit. It guards
// against a run of individually-plausible low-confidence autonomous actions,
// independent of any single message's score.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conciergestack/schedmate/internal/metrics"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/store"
)

// casRetries bounds the optimistic-concurrency retry loop. Contention on one
// principal's breaker is rare; exhausting this indicates something unhealthy.
const casRetries = 5

// ErrContention is returned when a conditional update keeps losing races.
var ErrContention = errors.New("breaker update contention")

// Breaker mediates all reads and writes of circuit breaker state.
type Breaker struct {
	logger *slog.Logger
	store  store.BreakerStore
	now    func() time.Time
}

// New constructs a Breaker over the given store.
func New(logger *slog.Logger, st store.BreakerStore) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{logger: logger, store: st, now: time.Now}
}

// IsOpen reports whether autonomous action is blocked for the principal.
// An open breaker whose cooldown deadline has passed moves to half_open
// (counter reset) and reports not blocked, allowing one probing decision.
func (b *Breaker) IsOpen(ctx context.Context, principalID string) (bool, error) {
	state, err := b.store.GetBreaker(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load breaker: %w", err)
	}

	if state.Phase != models.BreakerOpen {
		return false, nil
	}
	if b.now().Before(state.ReopenAt) {
		return true, nil
	}

	next := state.Clone()
	next.Phase = models.BreakerHalfOpen
	next.Consecutive = 0
	if err := b.store.SaveBreaker(ctx, next, state.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// A concurrent caller already moved it; re-evaluate.
			return b.IsOpen(ctx, principalID)
		}
		return false, fmt.Errorf("move breaker to half_open: %w", err)
	}
	metrics.ObserveBreakerTransition(string(models.BreakerHalfOpen))
	b.logger.Info("breaker cooldown elapsed",
		slog.String("principal_id", principalID),
		slog.String("state", string(models.BreakerHalfOpen)))
	return false, nil
}

// RecordLowConfidence counts one low-confidence outcome. Reaching
// maxConsecutive trips the breaker open with the given cooldown. A low
// outcome while half_open re-opens immediately: one bad probe is enough.
func (b *Breaker) RecordLowConfidence(ctx context.Context, principalID string, maxConsecutive int, cooldown time.Duration) error {
	if cooldown <= 0 {
		cooldown = 60 * time.Minute
	}
	if maxConsecutive <= 0 {
		maxConsecutive = 5
	}

	return b.mutate(ctx, principalID, func(state *models.BreakerState) {
		now := b.now()
		state.LastLowConfidence = now

		if state.Phase == models.BreakerHalfOpen {
			state.Phase = models.BreakerOpen
			state.ReopenAt = now.Add(cooldown)
			metrics.ObserveBreakerTransition(string(models.BreakerOpen))
			b.logger.Warn("breaker probe failed, reopened",
				slog.String("principal_id", principalID),
				slog.Time("reopen_at", state.ReopenAt))
			return
		}

		state.Consecutive++
		if state.Phase == models.BreakerClosed && state.Consecutive >= maxConsecutive {
			state.Phase = models.BreakerOpen
			state.ReopenAt = now.Add(cooldown)
			metrics.ObserveBreakerTransition(string(models.BreakerOpen))
			b.logger.Warn("breaker tripped",
				slog.String("principal_id", principalID),
				slog.Int("consecutive", state.Consecutive),
				slog.Time("reopen_at", state.ReopenAt))
		}
	})
}

// RecordHighConfidence resets the consecutive counter. It closes a
// half_open breaker (the probe succeeded) but never closes an open one;
// only cooldown expiry or a manual override does that.
func (b *Breaker) RecordHighConfidence(ctx context.Context, principalID string) error {
	return b.mutate(ctx, principalID, func(state *models.BreakerState) {
		state.Consecutive = 0
		if state.Phase == models.BreakerHalfOpen {
			state.Phase = models.BreakerClosed
			metrics.ObserveBreakerTransition(string(models.BreakerClosed))
			b.logger.Info("breaker probe succeeded, closed",
				slog.String("principal_id", principalID))
		}
	})
}

// ManualOverride is the principal-initiated escape hatch. Forcing close
// clears open/half_open state and the counter immediately, bypassing
// cooldown; forcing open trips the breaker with the given cooldown.
func (b *Breaker) ManualOverride(ctx context.Context, principalID string, forceClose bool, cooldown time.Duration) error {
	if cooldown <= 0 {
		cooldown = 60 * time.Minute
	}
	return b.mutate(ctx, principalID, func(state *models.BreakerState) {
		state.ManualOverride = true
		if forceClose {
			state.Phase = models.BreakerClosed
			state.Consecutive = 0
			state.ReopenAt = time.Time{}
		} else {
			state.Phase = models.BreakerOpen
			state.ReopenAt = b.now().Add(cooldown)
		}
		metrics.ObserveBreakerTransition(string(state.Phase))
		b.logger.Info("breaker manually overridden",
			slog.String("principal_id", principalID),
			slog.String("state", string(state.Phase)))
	})
}

// State returns the current breaker state, defaulting to closed when the
// principal has no record yet.
func (b *Breaker) State(ctx context.Context, principalID string) (*models.BreakerState, error) {
	state, err := b.store.GetBreaker(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &models.BreakerState{PrincipalID: principalID, Phase: models.BreakerClosed}, nil
		}
		return nil, fmt.Errorf("load breaker: %w", err)
	}
	return state, nil
}

// mutate applies fn under an optimistic-concurrency loop so the counter
// update is effectively atomic: a stale writer retries against fresh state
// instead of overwriting a concurrent increment.
func (b *Breaker) mutate(ctx context.Context, principalID string, fn func(*models.BreakerState)) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		state, err := b.store.GetBreaker(ctx, principalID)
		expected := int64(0)
		switch {
		case err == nil:
			expected = state.Version
		case errors.Is(err, store.ErrNotFound):
			state = &models.BreakerState{PrincipalID: principalID, Phase: models.BreakerClosed}
		default:
			return fmt.Errorf("load breaker: %w", err)
		}

		next := state.Clone()
		fn(next)

		err = b.store.SaveBreaker(ctx, next, expected)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		return fmt.Errorf("save breaker: %w", err)
	}
	return fmt.Errorf("%w for principal %s", ErrContention, principalID)
}
