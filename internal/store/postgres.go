package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	_ "github.com/lib/pq"

	"github.com/conciergestack/schedmate/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

// PostgresConfig holds connection parameters for the Postgres backend.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStore implements Store on PostgreSQL. Conditional updates use
// version-guarded UPDATEs so concurrent writers observe lost races as
// ErrVersionConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, pings, and applies the embedded schema.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	schema, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// GetConversation loads the conversation row for a thread.
func (s *PostgresStore) GetConversation(ctx context.Context, threadID string) (*models.ConversationState, error) {
	const query = `
		SELECT thread_id, principal_id, phase, turn, active_decision_id,
		       context, last_activity, expires_at, version
		FROM conversations
		WHERE thread_id = $1`

	var (
		state      models.ConversationState
		contextRaw []byte
	)
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(
		&state.ThreadID,
		&state.PrincipalID,
		&state.Phase,
		&state.Turn,
		&state.ActiveDecisionID,
		&contextRaw,
		&state.LastActivity,
		&state.ExpiresAt,
		&state.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	if len(contextRaw) > 0 {
		if err := json.Unmarshal(contextRaw, &state.Context); err != nil {
			return nil, fmt.Errorf("decode conversation context: %w", err)
		}
	}
	return &state, nil
}

// SaveConversation inserts (expectedVersion 0) or conditionally updates.
func (s *PostgresStore) SaveConversation(ctx context.Context, state *models.ConversationState, expectedVersion int64) error {
	contextRaw, err := json.Marshal(state.Context)
	if err != nil {
		return fmt.Errorf("encode conversation context: %w", err)
	}

	if expectedVersion == 0 {
		const insert = `
			INSERT INTO conversations
				(thread_id, principal_id, phase, turn, active_decision_id, context, last_activity, expires_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
			ON CONFLICT (thread_id) DO NOTHING`

		result, err := s.db.ExecContext(ctx, insert,
			state.ThreadID, state.PrincipalID, state.Phase, state.Turn,
			state.ActiveDecisionID, contextRaw, state.LastActivity, state.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrAlreadyExists
		}
		state.Version = 1
		return nil
	}

	const update = `
		UPDATE conversations
		SET principal_id = $2, phase = $3, turn = $4, active_decision_id = $5,
		    context = $6, last_activity = $7, expires_at = $8, version = version + 1
		WHERE thread_id = $1 AND version = $9`

	result, err := s.db.ExecContext(ctx, update,
		state.ThreadID, state.PrincipalID, state.Phase, state.Turn,
		state.ActiveDecisionID, contextRaw, state.LastActivity, state.ExpiresAt,
		expectedVersion)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	state.Version = expectedVersion + 1
	return nil
}

// ListExpiredConversations returns open conversations past their expiry.
func (s *PostgresStore) ListExpiredConversations(ctx context.Context, cutoff time.Time) ([]*models.ConversationState, error) {
	const query = `
		SELECT thread_id, principal_id, phase, turn, active_decision_id,
		       context, last_activity, expires_at, version
		FROM conversations
		WHERE phase <> 'closed' AND expires_at < $1`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired conversations: %w", err)
	}
	defer rows.Close()

	var expired []*models.ConversationState
	for rows.Next() {
		var (
			state      models.ConversationState
			contextRaw []byte
		)
		if err := rows.Scan(
			&state.ThreadID, &state.PrincipalID, &state.Phase, &state.Turn,
			&state.ActiveDecisionID, &contextRaw, &state.LastActivity,
			&state.ExpiresAt, &state.Version,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if len(contextRaw) > 0 {
			if err := json.Unmarshal(contextRaw, &state.Context); err != nil {
				return nil, fmt.Errorf("decode conversation context: %w", err)
			}
		}
		expired = append(expired, &state)
	}
	return expired, rows.Err()
}

// GetBreaker loads breaker state for a principal.
func (s *PostgresStore) GetBreaker(ctx context.Context, principalID string) (*models.BreakerState, error) {
	const query = `
		SELECT principal_id, phase, consecutive, last_low_confidence, reopen_at, manual_override, version
		FROM breakers
		WHERE principal_id = $1`

	var (
		state   models.BreakerState
		lastLow sql.NullTime
		reopen  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, principalID).Scan(
		&state.PrincipalID, &state.Phase, &state.Consecutive,
		&lastLow, &reopen, &state.ManualOverride, &state.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query breaker: %w", err)
	}
	if lastLow.Valid {
		state.LastLowConfidence = lastLow.Time
	}
	if reopen.Valid {
		state.ReopenAt = reopen.Time
	}
	return &state, nil
}

// SaveBreaker inserts (expectedVersion 0) or conditionally updates.
func (s *PostgresStore) SaveBreaker(ctx context.Context, state *models.BreakerState, expectedVersion int64) error {
	lastLow := nullTime(state.LastLowConfidence)
	reopen := nullTime(state.ReopenAt)

	if expectedVersion == 0 {
		const insert = `
			INSERT INTO breakers
				(principal_id, phase, consecutive, last_low_confidence, reopen_at, manual_override, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
			ON CONFLICT (principal_id) DO NOTHING`

		result, err := s.db.ExecContext(ctx, insert,
			state.PrincipalID, state.Phase, state.Consecutive, lastLow, reopen, state.ManualOverride)
		if err != nil {
			return fmt.Errorf("insert breaker: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrAlreadyExists
		}
		state.Version = 1
		return nil
	}

	const update = `
		UPDATE breakers
		SET phase = $2, consecutive = $3, last_low_confidence = $4,
		    reopen_at = $5, manual_override = $6, version = version + 1
		WHERE principal_id = $1 AND version = $7`

	result, err := s.db.ExecContext(ctx, update,
		state.PrincipalID, state.Phase, state.Consecutive, lastLow, reopen,
		state.ManualOverride, expectedVersion)
	if err != nil {
		return fmt.Errorf("update breaker: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("breaker rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	state.Version = expectedVersion + 1
	return nil
}

// AppendEntry inserts one immutable ledger row.
func (s *PostgresStore) AppendEntry(ctx context.Context, entry *models.AuditEntry) error {
	assessment, err := marshalNullable(entry.Assessment)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	calendar, err := marshalNullable(entry.CalendarSnapshot)
	if err != nil {
		return fmt.Errorf("encode calendar snapshot: %w", err)
	}
	contextSnap, err := marshalNullable(entry.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("encode context snapshot: %w", err)
	}

	const insert = `
		INSERT INTO audit_entries
			(id, principal_id, decision_id, conversation_id, sender, action, confidence,
			 rationale, outbound_message_id, assessment, calendar_snapshot, context_snapshot,
			 notified_at, override_decision, override_reason, overridden_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, '', '', NULL, $14)`

	_, err = s.db.ExecContext(ctx, insert,
		entry.ID, entry.PrincipalID, entry.DecisionID, entry.ConversationID,
		entry.Sender, entry.Action, entry.Confidence, entry.Rationale,
		entry.OutboundMessageID, assessment, calendar, contextSnap,
		nullTimePtr(entry.NotifiedAt), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// GetEntry loads one ledger row by id.
func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*models.AuditEntry, error) {
	const query = `
		SELECT id, principal_id, decision_id, conversation_id, sender, action, confidence,
		       rationale, outbound_message_id, assessment, calendar_snapshot, context_snapshot,
		       notified_at, override_decision, override_reason, overridden_at, created_at
		FROM audit_entries
		WHERE id = $1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// ListEntries returns a principal's filtered entries newest-first.
func (s *PostgresStore) ListEntries(ctx context.Context, principalID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, principal_id, decision_id, conversation_id, sender, action, confidence,
		       rationale, outbound_message_id, assessment, calendar_snapshot, context_snapshot,
		       notified_at, override_decision, override_reason, overridden_at, created_at
		FROM audit_entries
		WHERE principal_id = $1 AND confidence >= $2`
	args := []interface{}{principalID, filter.MinConfidence}

	if filter.MaxConfidence > 0 {
		args = append(args, filter.MaxConfidence)
		query += fmt.Sprintf(" AND confidence <= $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if len(filter.Actions) > 0 {
		placeholders := ""
		for i, action := range filter.Actions {
			args = append(args, string(action))
			if i > 0 {
				placeholders += ", "
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND action IN (%s)", placeholders)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetOverride attaches or replaces the override fields on an entry.
func (s *PostgresStore) SetOverride(ctx context.Context, id string, override models.OverrideDecision, reason string, at time.Time) error {
	const update = `
		UPDATE audit_entries
		SET override_decision = $2, override_reason = $3, overridden_at = $4
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, update, id, string(override), reason, at)
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("override rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AggregateSender rolls up ledger rows for one sender in SQL.
func (s *PostgresStore) AggregateSender(ctx context.Context, principalID, sender string, since time.Time) (models.SenderAggregate, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE action = 'sent_email'),
		       COUNT(*) FILTER (WHERE action = 'sent_email'
		                          AND override_decision NOT IN ('retracted', 'marked_incorrect')),
		       COALESCE(MAX(created_at), 'epoch'::timestamptz)
		FROM audit_entries
		WHERE principal_id = $1 AND sender = $2 AND created_at >= $3`

	var (
		agg  models.SenderAggregate
		last time.Time
	)
	err := s.db.QueryRowContext(ctx, query, principalID, sender, since).Scan(
		&agg.Total, &agg.Scheduling, &agg.Completed, &last)
	if err != nil {
		return models.SenderAggregate{}, fmt.Errorf("aggregate sender: %w", err)
	}
	if last.Year() > 1970 {
		agg.LastInteraction = last
	}
	return agg, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.AuditEntry, error) {
	var (
		entry      models.AuditEntry
		assessment []byte
		calendar   []byte
		contextRaw []byte
		notified   sql.NullTime
		overridden sql.NullTime
		override   string
	)
	err := row.Scan(
		&entry.ID, &entry.PrincipalID, &entry.DecisionID, &entry.ConversationID,
		&entry.Sender, &entry.Action, &entry.Confidence, &entry.Rationale,
		&entry.OutboundMessageID, &assessment, &calendar, &contextRaw,
		&notified, &override, &entry.OverrideReason, &overridden, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(assessment) > 0 {
		if err := json.Unmarshal(assessment, &entry.Assessment); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
	}
	if len(calendar) > 0 {
		if err := json.Unmarshal(calendar, &entry.CalendarSnapshot); err != nil {
			return nil, fmt.Errorf("decode calendar snapshot: %w", err)
		}
	}
	if len(contextRaw) > 0 {
		if err := json.Unmarshal(contextRaw, &entry.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("decode context snapshot: %w", err)
		}
	}
	if notified.Valid {
		entry.NotifiedAt = &notified.Time
	}
	entry.Override = models.OverrideDecision(override)
	if overridden.Valid {
		entry.OverriddenAt = &overridden.Time
	}
	return &entry, nil
}

// marshalNullable encodes snapshot fields, mapping nil pointers and empty
// maps to NULL so scanEntry's len check round-trips them as absent.
func marshalNullable(v interface{}) ([]byte, error) {
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
	case reflect.Map:
		if rv.Len() == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
