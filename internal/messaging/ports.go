package messaging

import (
	"context"
	"time"
)

// UserStore resolves usernames to identities. Implementations return
// ErrUserNotFound for unknown names.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
}

// MessageStore persists messages. Implementations must be safe for
// concurrent use.
type MessageStore interface {
	InsertMessage(ctx context.Context, m Message) error
	// GetMessage returns ErrStoredMsgNotFound for unknown ids.
	GetMessage(ctx context.Context, id string) (Message, error)
	// QueryThread returns every message matching q, ascending by SentAt.
	QueryThread(ctx context.Context, q ThreadQuery) ([]Message, error)
	// MarkRead sets ReadAt on the given messages that are still unread.
	// Already read messages keep their timestamp.
	MarkRead(ctx context.Context, ids []string, readAt time.Time) error
	// MarkDeleted sets the soft-delete flag of each side in sides without
	// touching the other flag, and reports whether both flags are now set.
	// The read and the write are one atomic step. Unknown ids return
	// ErrStoredMsgNotFound.
	MarkDeleted(ctx context.Context, id string, sides DeleteSide) (bool, error)
	RemoveMessage(ctx context.Context, id string) error
	// ListMailbox returns one page of q newest first and the total match count.
	ListMailbox(ctx context.Context, q MailboxQuery) ([]Message, int, error)
}

// DeleteSide names the party whose soft-delete flag MarkDeleted sets.
type DeleteSide uint8

const (
	SenderSide DeleteSide = 1 << iota
	RecipientSide
)

// Apply sets the flags named by d on m.
func (d DeleteSide) Apply(m *Message) {
	if d&SenderSide != 0 {
		m.SenderDeleted = true
	}
	if d&RecipientSide != 0 {
		m.RecipientDeleted = true
	}
}

// GroupPersistence stores conversation groups and their connections. A
// connection belongs to at most one group. AddConnection and RemoveConnection
// must each be atomic so concurrent joins and leaves never lose an update.
type GroupPersistence interface {
	// GetGroup returns ErrGroupNotFound for unknown names.
	GetGroup(ctx context.Context, name string) (Group, error)
	// CreateGroup returns ErrGroupExists if the name is taken.
	CreateGroup(ctx context.Context, name string) (Group, error)
	AddConnection(ctx context.Context, groupName string, c Connection) error
	// GetGroupForConnection returns ErrConnectionNotFound if the connection
	// is not in any group.
	GetGroupForConnection(ctx context.Context, connectionID string) (Group, error)
	// RemoveConnection deletes the membership and returns the group as it
	// is after the removal, or ErrConnectionNotFound.
	RemoveConnection(ctx context.Context, connectionID string) (Group, error)
}

// Publisher receives every successfully persisted message. Delivery is best
// effort; errors are logged by the hub.
type Publisher interface {
	PublishMessage(ctx context.Context, groupName string, m Message) error
}

// Metrics observes hub activity.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	UsersOnline(n int)
	MessageSent(read bool)
	NotificationSent()
	BroadcastDropped()
	ConnectRejected()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened() {}
func (nopMetrics) ConnectionClosed() {}
func (nopMetrics) UsersOnline(int) {}
func (nopMetrics) MessageSent(bool) {}
func (nopMetrics) NotificationSent() {}
func (nopMetrics) BroadcastDropped() {}
func (nopMetrics) ConnectRejected() {}
