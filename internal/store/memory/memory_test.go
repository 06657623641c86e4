package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

// TestFindByUsername verifies that users are matched case-insensitively and
// that unknown names report ErrUserNotFound.
func TestFindByUsername(t *testing.T) {
	s := New()
	s.AddUser(messaging.User{Username: "alice", KnownAs: "Alice"})

	u, err := s.FindByUsername(context.Background(), "ALICE")
	if err != nil {
		t.Fatalf("FindByUsername() error = %v", err)
	}
	if u.KnownAs != "Alice" {
		t.Errorf("KnownAs = %q, want Alice", u.KnownAs)
	}

	if _, err := s.FindByUsername(context.Background(), "bob"); !errors.Is(err, messaging.ErrUserNotFound) {
		t.Errorf("FindByUsername(bob) error = %v, want ErrUserNotFound", err)
	}
}

// TestMarkReadKeepsFirstTimestamp verifies that MarkRead only touches unread
// messages, so a read timestamp never moves.
func TestMarkReadKeepsFirstTimestamp(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if err := s.InsertMessage(ctx, messaging.Message{ID: "m1", SenderUsername: "alice", RecipientUsername: "bob", Content: "hi", SentAt: first}); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	if err := s.MarkRead(ctx, []string{"m1", "missing"}, first); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if err := s.MarkRead(ctx, []string{"m1"}, first.Add(time.Hour)); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	m, err := s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if m.ReadAt == nil || !m.ReadAt.Equal(first) {
		t.Errorf("ReadAt = %v, want %v", m.ReadAt, first)
	}
}

// TestGetMessageReturnsCopy verifies that callers cannot mutate stored state
// through a returned message.
func TestGetMessageReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Now().UTC()
	_ = s.InsertMessage(ctx, messaging.Message{ID: "m1", SenderUsername: "a", RecipientUsername: "b", ReadAt: &at})

	m, _ := s.GetMessage(ctx, "m1")
	*m.ReadAt = at.Add(time.Hour)

	again, _ := s.GetMessage(ctx, "m1")
	if !again.ReadAt.Equal(at) {
		t.Errorf("stored ReadAt changed to %v", again.ReadAt)
	}
}

// TestListMailboxPaging verifies newest-first ordering, totals and paging
// past the end of the result set.
func TestListMailboxPaging(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = s.InsertMessage(ctx, messaging.Message{
			ID:                fmt.Sprintf("m%d", i),
			SenderUsername:    "alice",
			RecipientUsername: "bob",
			SentAt:            base.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		name      string
		query     messaging.MailboxQuery
		wantIDs   []string
		wantTotal int
	}{
		{"first page", messaging.MailboxQuery{Username: "bob", Container: messaging.ContainerInbox, Limit: 2}, []string{"m4", "m3"}, 5},
		{"second page", messaging.MailboxQuery{Username: "bob", Container: messaging.ContainerInbox, Limit: 2, Offset: 2}, []string{"m2", "m1"}, 5},
		{"past end", messaging.MailboxQuery{Username: "bob", Container: messaging.ContainerInbox, Limit: 2, Offset: 9}, nil, 5},
		{"outbox", messaging.MailboxQuery{Username: "alice", Container: messaging.ContainerOutbox, Limit: 1}, []string{"m4"}, 5},
		{"empty outbox", messaging.MailboxQuery{Username: "bob", Container: messaging.ContainerOutbox, Limit: 10}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListMailbox(ctx, tt.query)
			if err != nil {
				t.Fatalf("ListMailbox() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d messages, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

// TestGroupMembership covers creating a group, adding and moving
// connections, and removing them again.
func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.GetGroup(ctx, "alice-bob"); !errors.Is(err, messaging.ErrGroupNotFound) {
		t.Fatalf("GetGroup() error = %v, want ErrGroupNotFound", err)
	}
	if _, err := s.CreateGroup(ctx, "alice-bob"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if _, err := s.CreateGroup(ctx, "alice-bob"); !errors.Is(err, messaging.ErrGroupExists) {
		t.Errorf("second CreateGroup() error = %v, want ErrGroupExists", err)
	}
	if err := s.AddConnection(ctx, "nobody-here", messaging.Connection{ID: "c0"}); !errors.Is(err, messaging.ErrGroupNotFound) {
		t.Errorf("AddConnection() to missing group error = %v", err)
	}

	_ = s.AddConnection(ctx, "alice-bob", messaging.Connection{ID: "c1", Username: "alice"})
	_ = s.AddConnection(ctx, "alice-bob", messaging.Connection{ID: "c2", Username: "bob"})

	g, err := s.GetGroupForConnection(ctx, "c2")
	if err != nil {
		t.Fatalf("GetGroupForConnection() error = %v", err)
	}
	if len(g.Connections) != 2 {
		t.Errorf("group has %d connections, want 2", len(g.Connections))
	}

	_, _ = s.CreateGroup(ctx, "bob-carol")
	_ = s.AddConnection(ctx, "bob-carol", messaging.Connection{ID: "c2", Username: "bob"})
	g, _ = s.GetGroup(ctx, "alice-bob")
	if g.HasMember("bob") {
		t.Error("moved connection still listed in its old group")
	}

	g, err = s.RemoveConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("RemoveConnection() error = %v", err)
	}
	if g.Name != "alice-bob" || len(g.Connections) != 0 {
		t.Errorf("RemoveConnection() = %+v, want empty alice-bob", g)
	}
	if _, err := s.RemoveConnection(ctx, "c1"); !errors.Is(err, messaging.ErrConnectionNotFound) {
		t.Errorf("second RemoveConnection() error = %v, want ErrConnectionNotFound", err)
	}
}

// TestDeleteFlagsAndRemove verifies soft-delete flag updates and hard removal.
func TestDeleteFlagsAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.InsertMessage(ctx, messaging.Message{ID: "m1", SenderUsername: "alice", RecipientUsername: "bob"})

	both, err := s.MarkDeleted(ctx, "m1", messaging.SenderSide)
	if err != nil || both {
		t.Fatalf("MarkDeleted(sender) = %v, %v", both, err)
	}
	thread, _ := s.QueryThread(ctx, messaging.ThreadQuery{Viewer: "alice", Other: "bob"})
	if len(thread) != 0 {
		t.Errorf("sender still sees %d messages", len(thread))
	}
	thread, _ = s.QueryThread(ctx, messaging.ThreadQuery{Viewer: "bob", Other: "alice"})
	if len(thread) != 1 {
		t.Errorf("recipient sees %d messages, want 1", len(thread))
	}

	// Marking the sender again keeps the recipient flag clear.
	if both, _ := s.MarkDeleted(ctx, "m1", messaging.SenderSide); both {
		t.Error("MarkDeleted(sender) twice reported both sides deleted")
	}
	if both, err := s.MarkDeleted(ctx, "m1", messaging.RecipientSide); err != nil || !both {
		t.Fatalf("MarkDeleted(recipient) = %v, %v", both, err)
	}

	if err := s.RemoveMessage(ctx, "m1"); err != nil {
		t.Fatalf("RemoveMessage() error = %v", err)
	}
	if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, messaging.ErrStoredMsgNotFound) {
		t.Errorf("GetMessage() after remove error = %v", err)
	}
	if _, err := s.MarkDeleted(ctx, "m1", messaging.SenderSide); !errors.Is(err, messaging.ErrStoredMsgNotFound) {
		t.Errorf("MarkDeleted() after remove error = %v", err)
	}
}
