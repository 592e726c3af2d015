package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/parcelworks/kbassist/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(id string, at time.Time) *domain.Session {
	return &domain.Session{
		SessionID: id,
		User: domain.UserIdentity{
			Email:    "alice@co.com",
			Name:     "Alice",
			Company:  "Co",
			Division: "Support",
		},
		CreatedAt:    at,
		LastActivity: at,
		Status:       domain.StatusActive,
	}
}

func testMessage(id, sessionID string, role domain.Role, content string, at time.Time) *domain.Message {
	return &domain.Message{
		MessageID: id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

func TestSQLiteSessionRoundtrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("s1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.User.Email != "alice@co.com" || got.User.Division != "Support" {
		t.Errorf("unexpected user identity: %+v", got.User)
	}
	if !got.CreatedAt.Equal(now) || !got.LastActivity.Equal(now) {
		t.Errorf("timestamps did not roundtrip: created=%v last=%v want %v", got.CreatedAt, got.LastActivity, now)
	}
	if got.Status != domain.StatusActive {
		t.Errorf("expected active status, got %q", got.Status)
	}
	if got.MessageCount != 0 || got.TotalQueries != 0 || got.Escalations != 0 {
		t.Errorf("expected zero aggregates, got %+v", got)
	}
}

func TestSQLiteCreateDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.CreateSession(ctx, testSession("s1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	err := s.CreateSession(ctx, testSession("s1", now))
	if !errdefs.IsAlreadyExists(err) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSQLitePartialUpdate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("s1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	summary := "user asked about parcel IDs"
	if err := s.UpdateSession(ctx, "s1", SessionUpdate{Summary: &summary}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Summary != summary {
		t.Errorf("summary not updated: %q", got.Summary)
	}
	// Unspecified fields must be untouched.
	if got.Status != domain.StatusActive || got.MessageCount != 0 || !got.LastActivity.Equal(now) {
		t.Errorf("partial update clobbered other fields: %+v", got)
	}
}

func TestSQLiteUpdateMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	count := 1
	err := s.UpdateSession(context.Background(), "nope", SessionUpdate{MessageCount: &count})
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSQLiteEmptyUpdateIsNoop(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.UpdateSession(context.Background(), "nope", SessionUpdate{}); err != nil {
		t.Fatalf("empty update should be a no-op, got %v", err)
	}
}

func TestSQLiteMessageOrderWithinSameTimestamp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("s1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Same timestamp for every append: the sequence column must keep
	// append order total.
	for i, content := range []string{"first", "second", "third"} {
		msg := testMessage(string(rune('a'+i)), "s1", domain.RoleUser, content, now)
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	got, err := s.QueryMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Errorf("position %d: expected %q, got %q", i, want, got[i].Content)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("timestamps not non-decreasing at %d", i)
		}
	}
}

func TestSQLiteRecentWindow(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("s1", base)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := testMessage(string(rune('a'+i)), "s1", domain.RoleUser, string(rune('0'+i)), base.Add(time.Duration(i)*time.Second))
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	got, err := s.QueryMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	// Most recent two, returned chronologically.
	if got[0].Content != "3" || got[1].Content != "4" {
		t.Errorf("expected window [3 4], got [%s %s]", got[0].Content, got[1].Content)
	}
}

func TestSQLiteQueryMessagesEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	got, err := s.QueryMessages(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("expected empty result, got error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
}

func TestSQLiteMessageMetadataRoundtrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("s1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	msg := testMessage("m1", "s1", domain.RoleAssistant, "a parcel ID identifies a land parcel", now)
	msg.Metadata = domain.Metadata{
		"confidence":   0.9,
		"query_type":   "definition",
		"source_count": 3.0,
		"acting_user":  "alice@co.com",
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, err := s.QueryMessages(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if c, ok := got[0].Metadata.Confidence(); !ok || c != 0.9 {
		t.Errorf("confidence did not roundtrip: %v %v", c, ok)
	}
	if got[0].Metadata["acting_user"] != "alice@co.com" {
		t.Errorf("acting_user did not roundtrip: %v", got[0].Metadata["acting_user"])
	}
}

func TestSQLiteCascadeDeleteIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("s1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.AppendMessage(ctx, testMessage("m1", "s1", domain.RoleUser, "hi", now)); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := s.DeleteSessionCascade(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSessionCascade failed: %v", err)
	}
	if _, err := s.GetSession(ctx, "s1"); !errdefs.IsNotFound(err) {
		t.Fatalf("expected session gone, got %v", err)
	}
	msgs, err := s.QueryMessages(ctx, "s1", 10)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected messages gone, got %d, err %v", len(msgs), err)
	}

	// Second delete is a no-op, not an error.
	if err := s.DeleteSessionCascade(ctx, "s1"); err != nil {
		t.Fatalf("repeat delete should succeed, got %v", err)
	}
}

func TestSQLiteStaleSessions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession(ctx, testSession("old", now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.CreateSession(ctx, testSession("fresh", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	stale, err := s.StaleSessions(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StaleSessions failed: %v", err)
	}
	if len(stale) != 1 || stale[0].SessionID != "old" {
		t.Fatalf("expected only the old session, got %+v", stale)
	}
}
