// Package conversation owns the per-thread negotiation state machine. The
// legal phase graph is an explicit table so it can be audited and tested
// directly rather than reconstructed from scattered conditionals.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/store"
)

// ErrInvalidTransition signals an attempted edge that is not in the phase
// graph. It indicates a concurrency bug or corrupted state assumption and
// must never be swallowed.
var ErrInvalidTransition = errors.New("invalid conversation transition")

type edge struct {
	from, to models.ConversationPhase
}

// legalEdges is the complete phase graph. availability_sent -> initial is
// the one backward edge: a clarification can restart the negotiation
// without abandoning the thread.
var legalEdges = map[edge]struct{}{
	{models.PhaseInitial, models.PhaseAvailabilitySent}:   {},
	{models.PhaseInitial, models.PhaseClosed}:             {},
	{models.PhaseAvailabilitySent, models.PhaseConfirmed}: {},
	{models.PhaseAvailabilitySent, models.PhaseInitial}:   {},
	{models.PhaseAvailabilitySent, models.PhaseClosed}:    {},
	{models.PhaseConfirmed, models.PhaseScheduled}:        {},
	{models.PhaseConfirmed, models.PhaseClosed}:           {},
	{models.PhaseScheduled, models.PhaseClosed}:           {},
}

// TransitionAllowed reports whether from -> to is in the phase graph.
func TransitionAllowed(from, to models.ConversationPhase) bool {
	_, ok := legalEdges[edge{from, to}]
	return ok
}

// Manager mediates all reads and writes of conversation state.
type Manager struct {
	logger *slog.Logger
	store  store.ConversationStore
	ttl    time.Duration
	now    func() time.Time
}

// NewManager constructs a Manager with the given conversation TTL.
func NewManager(logger *slog.Logger, st store.ConversationStore, ttl time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &Manager{
		logger: logger,
		store:  st,
		ttl:    ttl,
		now:    time.Now,
	}
}

// GetOrCreate returns the existing non-closed conversation for a thread, or
// creates a fresh one in the initial phase with turn 1. A closed
// conversation on the same thread is superseded by a fresh negotiation.
func (m *Manager) GetOrCreate(ctx context.Context, threadID, principalID string) (*models.ConversationState, error) {
	existing, err := m.store.GetConversation(ctx, threadID)
	switch {
	case err == nil:
		if existing.Phase != models.PhaseClosed {
			return existing, nil
		}
		fresh := m.newState(threadID, principalID)
		fresh.Version = existing.Version
		if err := m.store.SaveConversation(ctx, fresh, existing.Version); err != nil {
			return nil, fmt.Errorf("reset closed conversation: %w", err)
		}
		return fresh, nil
	case errors.Is(err, store.ErrNotFound):
		fresh := m.newState(threadID, principalID)
		if err := m.store.SaveConversation(ctx, fresh, 0); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// Lost a creation race; the winner's record is authoritative.
				return m.store.GetConversation(ctx, threadID)
			}
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return fresh, nil
	default:
		return nil, fmt.Errorf("load conversation: %w", err)
	}
}

// Transition validates the edge against the phase graph and applies it as a
// conditional update. On success the turn counter increments, last-activity
// and expiry refresh, and context updates merge into the existing map.
func (m *Manager) Transition(ctx context.Context, threadID string, to models.ConversationPhase, updates map[string]string) (*models.ConversationState, error) {
	state, err := m.store.GetConversation(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if !TransitionAllowed(state.Phase, to) {
		return nil, fmt.Errorf("%w: %s -> %s (thread %s)", ErrInvalidTransition, state.Phase, to, threadID)
	}

	next := state.Clone()
	next.Phase = to
	m.advance(next, updates)

	if err := m.store.SaveConversation(ctx, next, state.Version); err != nil {
		return nil, fmt.Errorf("apply transition %s -> %s: %w", state.Phase, to, err)
	}
	return next, nil
}

// Touch bumps the turn counter and merges context without changing phase.
// Used when a message advances the negotiation but no edge applies, e.g. a
// second availability exchange on an already availability_sent thread.
func (m *Manager) Touch(ctx context.Context, threadID string, updates map[string]string) (*models.ConversationState, error) {
	state, err := m.store.GetConversation(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if state.Phase == models.PhaseClosed {
		return nil, fmt.Errorf("%w: touch on closed thread %s", ErrInvalidTransition, threadID)
	}

	next := state.Clone()
	m.advance(next, updates)

	if err := m.store.SaveConversation(ctx, next, state.Version); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return next, nil
}

// Close force-transitions a conversation to closed. Closing is legal from
// every phase, so this never consults the edge table; closing an already
// closed conversation is a no-op.
func (m *Manager) Close(ctx context.Context, threadID string) error {
	state, err := m.store.GetConversation(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load conversation: %w", err)
	}
	if state.Phase == models.PhaseClosed {
		return nil
	}

	next := state.Clone()
	next.Phase = models.PhaseClosed
	m.advance(next, nil)

	if err := m.store.SaveConversation(ctx, next, state.Version); err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	return nil
}

// CleanupExpired closes every non-closed conversation whose expiry deadline
// has passed and returns the number closed. Safe to run repeatedly.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredConversations(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("list expired conversations: %w", err)
	}

	closed := 0
	for _, state := range expired {
		if err := m.Close(ctx, state.ThreadID); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// A concurrent writer touched the thread; it is live again.
				continue
			}
			return closed, err
		}
		closed++
	}
	if closed > 0 {
		m.logger.Info("closed expired conversations", slog.Int("count", closed))
	}
	return closed, nil
}

func (m *Manager) newState(threadID, principalID string) *models.ConversationState {
	now := m.now()
	return &models.ConversationState{
		ThreadID:     threadID,
		PrincipalID:  principalID,
		Phase:        models.PhaseInitial,
		Turn:         1,
		Context:      map[string]string{},
		LastActivity: now,
		ExpiresAt:    now.Add(m.ttl),
	}
}

func (m *Manager) advance(state *models.ConversationState, updates map[string]string) {
	now := m.now()
	state.Turn++
	state.LastActivity = now
	state.ExpiresAt = now.Add(m.ttl)
	if len(updates) > 0 {
		if state.Context == nil {
			state.Context = make(map[string]string, len(updates))
		}
		for k, v := range updates {
			state.Context[k] = v
		}
	}
}
