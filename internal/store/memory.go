package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

// MemoryStore is the in-process Store used for tests and single-node
// deployments. Conditional updates are serialised under one mutex, which
// gives the same lost-update protection the SQL backend gets from
// version-guarded UPDATEs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.ConversationState
	breakers      map[string]*models.BreakerState
	entries       []*models.AuditEntry
	entryIndex    map[string]*models.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.ConversationState),
		breakers:      make(map[string]*models.BreakerState),
		entryIndex:    make(map[string]*models.AuditEntry),
	}
}

// GetConversation returns the conversation for a thread, or ErrNotFound.
func (s *MemoryStore) GetConversation(ctx context.Context, threadID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.conversations[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// SaveConversation inserts or conditionally updates a conversation.
func (s *MemoryStore) SaveConversation(ctx context.Context, state *models.ConversationState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.conversations[state.ThreadID]
	if expectedVersion == 0 {
		if exists {
			return ErrAlreadyExists
		}
	} else {
		if !exists {
			return ErrNotFound
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}

	state.Version = expectedVersion + 1
	s.conversations[state.ThreadID] = state.Clone()
	return nil
}

// ListExpiredConversations returns non-closed conversations past their expiry.
func (s *MemoryStore) ListExpiredConversations(ctx context.Context, cutoff time.Time) ([]*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*models.ConversationState
	for _, state := range s.conversations {
		if state.Phase == models.PhaseClosed {
			continue
		}
		if !state.ExpiresAt.IsZero() && state.ExpiresAt.Before(cutoff) {
			expired = append(expired, state.Clone())
		}
	}
	return expired, nil
}

// GetBreaker returns the breaker state for a principal, or ErrNotFound.
func (s *MemoryStore) GetBreaker(ctx context.Context, principalID string) (*models.BreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.breakers[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// SaveBreaker inserts or conditionally updates breaker state.
func (s *MemoryStore) SaveBreaker(ctx context.Context, state *models.BreakerState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.breakers[state.PrincipalID]
	if expectedVersion == 0 {
		if exists {
			return ErrAlreadyExists
		}
	} else {
		if !exists {
			return ErrNotFound
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}

	state.Version = expectedVersion + 1
	s.breakers[state.PrincipalID] = state.Clone()
	return nil
}

// AppendEntry adds one immutable entry to the ledger.
func (s *MemoryStore) AppendEntry(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entryIndex[entry.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *entry
	s.entries = append(s.entries, &copied)
	s.entryIndex[entry.ID] = &copied
	return nil
}

// GetEntry returns one ledger entry by id.
func (s *MemoryStore) GetEntry(ctx context.Context, id string) (*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entryIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

// ListEntries returns a principal's filtered entries newest-first.
func (s *MemoryStore) ListEntries(ctx context.Context, principalID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.AuditEntry
	for _, entry := range s.entries {
		if entry.PrincipalID != principalID {
			continue
		}
		if !filter.Matches(entry) {
			continue
		}
		copied := *entry
		matched = append(matched, &copied)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// SetOverride attaches or replaces the human override on an entry.
func (s *MemoryStore) SetOverride(ctx context.Context, id string, override models.OverrideDecision, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entryIndex[id]
	if !ok {
		return ErrNotFound
	}
	entry.Override = override
	entry.OverrideReason = reason
	entry.OverriddenAt = &at
	return nil
}

// AggregateSender rolls up ledger rows for one sender.
func (s *MemoryStore) AggregateSender(ctx context.Context, principalID, sender string, since time.Time) (models.SenderAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg models.SenderAggregate
	for _, entry := range s.entries {
		if entry.PrincipalID != principalID || entry.Sender != sender {
			continue
		}
		if !since.IsZero() && entry.CreatedAt.Before(since) {
			continue
		}
		agg.Total++
		if entry.Action == models.ActionSentEmail {
			agg.Scheduling++
			if entry.Override != models.OverrideRetracted && entry.Override != models.OverrideMarkedIncorrect {
				agg.Completed++
			}
		}
		if entry.CreatedAt.After(agg.LastInteraction) {
			agg.LastInteraction = entry.CreatedAt
		}
	}
	return agg, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
