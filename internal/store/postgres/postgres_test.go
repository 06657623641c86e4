package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

// TestNormalizeDSN verifies that foreign driver prefixes are rewritten.
func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  postgres://u:p@h/db  ", "postgres://u:p@h/db"},
		{"postgresql+asyncpg://u:p@h/db", "postgresql://u:p@h/db"},
		{"postgres+pgx://u:p@h/db", "postgres://u:p@h/db"},
	}
	for _, tt := range tests {
		if got := normalizeDSN(tt.in); got != tt.want {
			t.Errorf("normalizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// openTestStore connects to SOCIALCHAT_TEST_DB_URL and skips the test when
// it is not set.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SOCIALCHAT_TEST_DB_URL")
	if dsn == "" {
		t.Skip("SOCIALCHAT_TEST_DB_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Migrate() error = %v", err)
	}
	s := NewStore(pool)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStoreRoundTrip exercises users, messages and groups against a live
// database. Names are randomised so runs do not collide.
func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	alice, bob := "alice"+suffix, "bob"+suffix

	if err := s.PutUser(ctx, messaging.User{Username: alice, KnownAs: "Alice"}); err != nil {
		t.Fatalf("PutUser() error = %v", err)
	}
	if u, err := s.FindByUsername(ctx, "ALICE"+suffix); err != nil || u.Username != alice {
		t.Errorf("FindByUsername() = %+v, %v", u, err)
	}

	sent := time.Now().UTC().Truncate(time.Microsecond)
	m := messaging.Message{ID: uuid.NewString(), SenderUsername: alice, RecipientUsername: bob, Content: "hi", SentAt: sent}
	if err := s.InsertMessage(ctx, m); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	thread, err := s.QueryThread(ctx, messaging.ThreadQuery{Viewer: bob, Other: alice})
	if err != nil || len(thread) != 1 {
		t.Fatalf("QueryThread() = %+v, %v", thread, err)
	}

	readAt := sent.Add(time.Second)
	if err := s.MarkRead(ctx, []string{m.ID}, readAt); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	_ = s.MarkRead(ctx, []string{m.ID}, readAt.Add(time.Hour))
	got, _ := s.GetMessage(ctx, m.ID)
	if got.ReadAt == nil || !got.ReadAt.Equal(readAt) {
		t.Errorf("ReadAt = %v, want %v", got.ReadAt, readAt)
	}

	msgs, total, err := s.ListMailbox(ctx, messaging.MailboxQuery{Username: bob, Container: messaging.ContainerInbox, Limit: 10})
	if err != nil || total != 1 || len(msgs) != 1 {
		t.Errorf("ListMailbox() = %d/%d, %v", len(msgs), total, err)
	}

	if both, err := s.MarkDeleted(ctx, m.ID, messaging.SenderSide); err != nil || both {
		t.Fatalf("MarkDeleted(sender) = %v, %v", both, err)
	}
	if thread, _ := s.QueryThread(ctx, messaging.ThreadQuery{Viewer: alice, Other: bob}); len(thread) != 0 {
		t.Errorf("sender still sees %d messages", len(thread))
	}
	if both, err := s.MarkDeleted(ctx, m.ID, messaging.RecipientSide); err != nil || !both {
		t.Fatalf("MarkDeleted(recipient) = %v, %v", both, err)
	}
	if _, err := s.MarkDeleted(ctx, uuid.NewString(), messaging.SenderSide); !errors.Is(err, messaging.ErrStoredMsgNotFound) {
		t.Errorf("MarkDeleted(unknown) error = %v", err)
	}

	if err := s.RemoveMessage(ctx, m.ID); err != nil {
		t.Fatalf("RemoveMessage() error = %v", err)
	}
	if _, err := s.GetMessage(ctx, m.ID); !errors.Is(err, messaging.ErrStoredMsgNotFound) {
		t.Errorf("GetMessage() error = %v", err)
	}

	group := messaging.GroupName(alice, bob)
	if _, err := s.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if _, err := s.CreateGroup(ctx, group); !errors.Is(err, messaging.ErrGroupExists) {
		t.Errorf("CreateGroup() twice error = %v", err)
	}
	connID := uuid.NewString()
	if err := s.AddConnection(ctx, group, messaging.Connection{ID: connID, Username: alice}); err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}
	g, err := s.RemoveConnection(ctx, connID)
	if err != nil || g.Name != group || len(g.Connections) != 0 {
		t.Errorf("RemoveConnection() = %+v, %v", g, err)
	}
	if _, err := s.RemoveConnection(ctx, connID); !errors.Is(err, messaging.ErrConnectionNotFound) {
		t.Errorf("RemoveConnection() twice error = %v", err)
	}
}
