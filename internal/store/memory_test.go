package store

import (
	"context"
	"testing"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

func TestSaveConversationVersioning(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := &models.ConversationState{
		ThreadID:    "thread-1",
		PrincipalID: "principal-1",
		Phase:       models.PhaseInitial,
		Turn:        1,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := s.SaveConversation(ctx, state, 0); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if state.Version != 1 {
		t.Fatalf("expected version 1, got %d", state.Version)
	}

	if err := s.SaveConversation(ctx, state.Clone(), 0); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Two readers race on the same version: only one writer may win.
	a, _ := s.GetConversation(ctx, "thread-1")
	b, _ := s.GetConversation(ctx, "thread-1")

	a.Phase = models.PhaseAvailabilitySent
	if err := s.SaveConversation(ctx, a, a.Version); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}

	b.Phase = models.PhaseClosed
	if err := s.SaveConversation(ctx, b, b.Version); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict for stale writer, got %v", err)
	}

	current, err := s.GetConversation(ctx, "thread-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if current.Phase != models.PhaseAvailabilitySent {
		t.Fatalf("stale writer corrupted state: %s", current.Phase)
	}
}

func TestSaveBreakerVersioning(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetBreaker(ctx, "p1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state := &models.BreakerState{PrincipalID: "p1", Phase: models.BreakerClosed}
	if err := s.SaveBreaker(ctx, state, 0); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	stale := state.Clone()
	state.Consecutive = 1
	if err := s.SaveBreaker(ctx, state, state.Version); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	stale.Consecutive = 9
	if err := s.SaveBreaker(ctx, stale, stale.Version); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestListExpiredConversationsSkipsClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	open := &models.ConversationState{ThreadID: "open", Phase: models.PhaseInitial, ExpiresAt: past}
	closed := &models.ConversationState{ThreadID: "closed", Phase: models.PhaseClosed, ExpiresAt: past}
	fresh := &models.ConversationState{ThreadID: "fresh", Phase: models.PhaseInitial, ExpiresAt: time.Now().Add(time.Hour)}
	for _, c := range []*models.ConversationState{open, closed, fresh} {
		if err := s.SaveConversation(ctx, c, 0); err != nil {
			t.Fatalf("insert %s: %v", c.ThreadID, err)
		}
	}

	expired, err := s.ListExpiredConversations(ctx, time.Now())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ThreadID != "open" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}
}

func TestAuditAppendListAndOverride(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	actions := []models.AuditAction{
		models.ActionSentEmail,
		models.ActionEscalated,
		models.ActionDeclinedRequest,
	}
	for i, action := range actions {
		entry := &models.AuditEntry{
			ID:          string(rune('a' + i)),
			PrincipalID: "p1",
			Sender:      "alice@example.com",
			Action:      action,
			Confidence:  0.5 + 0.1*float64(i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendEntry(ctx, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.ListEntries(ctx, "p1", models.AuditFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if !all[0].CreatedAt.After(all[2].CreatedAt) {
		t.Fatalf("entries not newest-first")
	}

	sent, err := s.ListEntries(ctx, "p1", models.AuditFilter{Actions: []models.AuditAction{models.ActionSentEmail}})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(sent) != 1 || sent[0].Action != models.ActionSentEmail {
		t.Fatalf("action filter broken: %+v", sent)
	}

	if err := s.SetOverride(ctx, "a", models.OverrideMarkedIncorrect, "wrong slot", time.Now()); err != nil {
		t.Fatalf("override failed: %v", err)
	}
	// A second override replaces the first.
	if err := s.SetOverride(ctx, "a", models.OverrideApproved, "actually fine", time.Now()); err != nil {
		t.Fatalf("second override failed: %v", err)
	}
	entry, err := s.GetEntry(ctx, "a")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Override != models.OverrideApproved || entry.OverrideReason != "actually fine" {
		t.Fatalf("override not replaced: %+v", entry)
	}

	agg, err := s.AggregateSender(ctx, "p1", "alice@example.com", time.Time{})
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.Total != 3 || agg.Scheduling != 1 || agg.Completed != 1 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}
