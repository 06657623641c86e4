package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/socialchat/internal/logger"
)

const (
	defaultMailboxLimit = 50
	maxMailboxLimit     = 100
)

// ThreadService reads conversations and applies read receipts and soft
// deletes to them.
type ThreadService struct {
	messages MessageStore
	now      func() time.Time
}

// NewThreadService returns a service over store. now defaults to time.Now in UTC.
func NewThreadService(store MessageStore, now func() time.Time) *ThreadService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ThreadService{messages: store, now: now}
}

// GetThread returns the conversation between currentUser and otherUser in
// ascending send order. Every returned message addressed to currentUser that
// was still unread is marked read at the current time, and that change is
// persisted before GetThread returns. Messages currentUser sent are never
// touched.
func (s *ThreadService) GetThread(ctx context.Context, currentUser, otherUser string) ([]Message, error) {
	msgs, err := s.messages.QueryThread(ctx, ThreadQuery{Viewer: currentUser, Other: otherUser})
	if err != nil {
		return nil, fmt.Errorf("%w: query thread: %v", ErrPersistence, err)
	}
	SortThread(msgs)

	var unread []int
	for i, m := range msgs {
		if m.IsUnreadFor(currentUser) {
			unread = append(unread, i)
		}
	}
	if len(unread) == 0 {
		return msgs, nil
	}

	readAt := s.now()
	ids := make([]string, 0, len(unread))
	for _, i := range unread {
		ids = append(ids, msgs[i].ID)
	}
	if err := s.messages.MarkRead(ctx, ids, readAt); err != nil {
		return nil, fmt.Errorf("%w: mark read: %v", ErrPersistence, err)
	}
	for _, i := range unread {
		at := readAt
		msgs[i].ReadAt = &at
	}

	logger.Debug("thread_marked_read", "viewer", currentUser, "other", otherUser, "count", len(ids))
	return msgs, nil
}

// DeleteMessage soft-deletes message id on behalf of requestingUser. The
// message is removed from the store once both parties have deleted it.
func (s *ThreadService) DeleteMessage(ctx context.Context, id, requestingUser string) error {
	m, err := s.messages.GetMessage(ctx, id)
	if errors.Is(err, ErrStoredMsgNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get message %s: %v", ErrPersistence, id, err)
	}

	var side DeleteSide
	if m.SenderUsername == requestingUser {
		side |= SenderSide
	}
	if m.RecipientUsername == requestingUser {
		side |= RecipientSide
	}
	if side == 0 {
		return ErrNotMessageParty
	}

	both, err := s.messages.MarkDeleted(ctx, id, side)
	if errors.Is(err, ErrStoredMsgNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: update message %s: %v", ErrPersistence, id, err)
	}
	if !both {
		return nil
	}

	// A concurrent delete that also saw both flags may have removed it first.
	if err := s.messages.RemoveMessage(ctx, id); err != nil && !errors.Is(err, ErrStoredMsgNotFound) {
		return fmt.Errorf("%w: remove message %s: %v", ErrPersistence, id, err)
	}
	logger.Info("message_removed", "id", id)
	return nil
}

// ListMailbox returns one page of a user's inbox, outbox or unread messages,
// newest first. An empty container means unread.
func (s *ThreadService) ListMailbox(ctx context.Context, q MailboxQuery) (Page, error) {
	switch q.Container {
	case "":
		q.Container = ContainerUnread
	case ContainerInbox, ContainerOutbox, ContainerUnread:
	default:
		return Page{}, ErrInvalidContainer
	}
	if q.Limit <= 0 {
		q.Limit = defaultMailboxLimit
	}
	if q.Limit > maxMailboxLimit {
		q.Limit = maxMailboxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	msgs, total, err := s.messages.ListMailbox(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("%w: list mailbox: %v", ErrPersistence, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return Page{Messages: msgs, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}
