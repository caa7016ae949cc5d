// Package store defines the persistence contracts for the decision core's
// three shared mutable records: conversations, circuit breakers, and the
// audit ledger. Conversation and breaker writes are optimistic: callers pass
// the version they read, and a stale writer gets ErrVersionConflict instead
// of silently clobbering a concurrent update.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

var (
	// ErrNotFound signals that no record exists for the given key.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict signals that a conditional update lost a race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyExists signals an insert against an occupied key.
	ErrAlreadyExists = errors.New("record already exists")
)

// ConversationStore persists per-thread negotiation state.
type ConversationStore interface {
	GetConversation(ctx context.Context, threadID string) (*models.ConversationState, error)
	// SaveConversation inserts when expectedVersion is 0 and otherwise
	// performs a conditional update. The stored Version is bumped on success
	// and reflected in the passed state.
	SaveConversation(ctx context.Context, state *models.ConversationState, expectedVersion int64) error
	// ListExpiredConversations returns non-closed conversations whose expiry
	// deadline precedes the cutoff.
	ListExpiredConversations(ctx context.Context, cutoff time.Time) ([]*models.ConversationState, error)
}

// BreakerStore persists per-principal circuit breaker state.
type BreakerStore interface {
	GetBreaker(ctx context.Context, principalID string) (*models.BreakerState, error)
	SaveBreaker(ctx context.Context, state *models.BreakerState, expectedVersion int64) error
}

// AuditStore persists the append-only decision ledger.
type AuditStore interface {
	AppendEntry(ctx context.Context, entry *models.AuditEntry) error
	GetEntry(ctx context.Context, id string) (*models.AuditEntry, error)
	// ListEntries returns a principal's entries newest-first after filtering.
	ListEntries(ctx context.Context, principalID string, filter models.AuditFilter) ([]*models.AuditEntry, error)
	// SetOverride attaches or replaces the human override on an entry without
	// touching the original decision fields.
	SetOverride(ctx context.Context, id string, override models.OverrideDecision, reason string, at time.Time) error
	// AggregateSender rolls up a principal's ledger rows for one sender since
	// the given cutoff.
	AggregateSender(ctx context.Context, principalID, sender string, since time.Time) (models.SenderAggregate, error)
}

// Store bundles the three persistence contracts plus lifecycle.
type Store interface {
	ConversationStore
	BreakerStore
	AuditStore
	Close() error
}
