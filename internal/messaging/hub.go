package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/socialchat/internal/logger"
)

// HubConfig wires the hub to its collaborators. Users, Messages and Groups
// are required; the rest are optional.
type HubConfig struct {
	Users     UserStore
	Messages  MessageStore
	Groups    GroupPersistence
	Publisher Publisher
	Metrics   Metrics
	Now       func() time.Time
	NewID     func() string
}

// Hub is the messaging protocol handler. Transports call Connect,
// ConnectPresence, Disconnect and SendMessage from one goroutine per
// connection; all methods are safe for concurrent use and none holds a lock
// while waiting on a store.
type Hub struct {
	users     UserStore
	messages  MessageStore
	groups    *GroupStore
	threads   *ThreadService
	registry  *Registry
	fanout    *Fanout
	notifier  *Notifier
	publisher Publisher
	metrics   Metrics
	now       func() time.Time
	newID     func() string
}

// NewHub builds a hub with its own presence registry and fan-out.
func NewHub(cfg HubConfig) *Hub {
	m := cfg.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	registry := NewRegistry()
	fanout := NewFanout(m)
	return &Hub{
		users:     cfg.Users,
		messages:  cfg.Messages,
		groups:    NewGroupStore(cfg.Groups),
		threads:   NewThreadService(cfg.Messages, now),
		registry:  registry,
		fanout:    fanout,
		notifier:  NewNotifier(registry, fanout, m),
		publisher: cfg.Publisher,
		metrics:   m,
		now:       now,
		newID:     newID,
	}
}

// Registry exposes the presence registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Connect joins conn to the conversation with other. The connection is
// subscribed to the group's fan-out before the membership is persisted and
// before the thread is read, so a concurrent send from the peer sees either
// the new membership or a thread read that marks its message read.
//
// Both usernames are resolved through the user store first, so the group
// name and membership use the stored spelling whatever case the caller used.
// The caller receives the thread snapshot on out; everyone in the group
// (caller included) receives the updated membership. On any error the
// connection is left in no group and the transport should reject it.
func (h *Hub) Connect(ctx context.Context, conn Connection, other string, out chan<- []byte) error {
	if !ValidUsername(conn.Username) || !ValidUsername(other) {
		h.metrics.ConnectRejected()
		return ErrInvalidUsername
	}
	self, err := h.lookup(ctx, conn.Username, ErrUnknownSender)
	if err != nil {
		h.metrics.ConnectRejected()
		return err
	}
	peer, err := h.lookup(ctx, other, ErrUnknownRecipient)
	if err != nil {
		h.metrics.ConnectRejected()
		return err
	}
	conn.Username, other = self.Username, peer.Username
	name := GroupName(conn.Username, other)

	h.fanout.Attach(conn.ID, out)
	h.fanout.Join(name, conn.ID)

	group, err := h.groups.Join(ctx, name, conn)
	if err != nil {
		h.fanout.Detach(conn.ID)
		h.metrics.ConnectRejected()
		logger.Warn("connect_join_failed", "connection_id", conn.ID, "group", name, "error", err)
		return err
	}

	h.metrics.ConnectionOpened()
	h.trackPresence(conn)
	h.fanout.Broadcast(name, groupUpdated(group))

	msgs, err := h.threads.GetThread(ctx, conn.Username, other)
	if err != nil {
		h.metrics.ConnectRejected()
		logger.Warn("connect_thread_failed", "connection_id", conn.ID, "group", name, "error", err)
		if derr := h.Disconnect(ctx, conn.ID); derr != nil {
			logger.Error("connect_rollback_failed", "connection_id", conn.ID, "error", derr)
		}
		return err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	h.fanout.Send([]string{conn.ID}, Event{Type: EventThreadSnapshot, Payload: msgs})

	logger.Info("connection_joined", "connection_id", conn.ID, "username", conn.Username, "group", name, "members", len(group.Connections))
	return nil
}

// ConnectPresence registers a presence-only connection. It receives new
// message notifications and online/offline changes but joins no
// conversation group.
func (h *Hub) ConnectPresence(conn Connection, out chan<- []byte) error {
	if !ValidUsername(conn.Username) {
		h.metrics.ConnectRejected()
		return ErrInvalidUsername
	}
	h.fanout.Attach(conn.ID, out)
	h.metrics.ConnectionOpened()
	h.trackPresence(conn)
	h.notifier.Listen(conn.ID)

	logger.Info("presence_connected", "connection_id", conn.ID, "username", conn.Username)
	return nil
}

// Disconnect removes connectionID from its conversation group, tells the
// remaining members and drops the connection from presence. It may be called
// more than once for the same connection; repeated calls are no-ops. The
// returned error only reports a store failure; in-memory cleanup always runs.
func (h *Hub) Disconnect(ctx context.Context, connectionID string) error {
	ctx = context.WithoutCancel(ctx)
	h.fanout.Detach(connectionID)

	var result error
	group, err := h.groups.Leave(ctx, connectionID)
	switch {
	case errors.Is(err, ErrConnectionNotFound):
		logger.Debug("disconnect_no_group", "connection_id", connectionID)
	case err != nil:
		logger.Warn("disconnect_leave_failed", "connection_id", connectionID, "error", err)
		result = err
	default:
		h.fanout.Broadcast(group.Name, groupUpdated(group))
		logger.Info("connection_left", "connection_id", connectionID, "group", group.Name, "members", len(group.Connections))
	}

	h.untrackPresence(connectionID)
	return result
}

// SendMessage persists a message from caller to recipientUsername and fans
// it out to the conversation group. The read-or-unread decision is made
// once, before the single insert: if the recipient has a connection in the
// group the message is stored read. Otherwise the recipient's live
// connections, if any, get a notification after the message is stored.
func (h *Hub) SendMessage(ctx context.Context, caller, recipientUsername, content string) (Message, error) {
	recipientUsername = strings.TrimSpace(recipientUsername)
	if strings.EqualFold(caller, recipientUsername) {
		return Message{}, ErrSelfMessage
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}

	sender, err := h.lookup(ctx, caller, ErrUnknownSender)
	if err != nil {
		return Message{}, err
	}
	recipient, err := h.lookup(ctx, recipientUsername, ErrUnknownRecipient)
	if err != nil {
		return Message{}, err
	}

	now := h.now()
	msg := Message{
		ID:                h.newID(),
		SenderUsername:    sender.Username,
		RecipientUsername: recipient.Username,
		Content:           content,
		SentAt:            now,
	}

	name := GroupName(sender.Username, recipient.Username)
	group, err := h.groups.Get(ctx, name)
	if err != nil {
		return Message{}, err
	}
	viewing := group.HasMember(recipient.Username)
	if viewing {
		readAt := now
		msg.ReadAt = &readAt
	}

	if err := h.messages.InsertMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("%w: insert message: %v", ErrPersistence, err)
	}
	h.metrics.MessageSent(viewing)

	delivered := h.fanout.Broadcast(name, Event{Type: EventNewMessage, Payload: msg})
	notified := false
	if !viewing {
		notified = h.notifier.NotifyNewMessage(recipient.Username, sender)
	}
	h.publish(ctx, name, msg)

	logger.Debug("message_sent", "id", msg.ID, "group", name, "read", viewing, "delivered", delivered, "notified", notified)
	return msg, nil
}

// GetThread returns the thread between currentUser and otherUser and marks
// the messages currentUser received as read.
func (h *Hub) GetThread(ctx context.Context, currentUser, otherUser string) ([]Message, error) {
	return h.threads.GetThread(ctx, currentUser, otherUser)
}

// DeleteMessage soft-deletes a message for requestingUser.
func (h *Hub) DeleteMessage(ctx context.Context, id, requestingUser string) error {
	return h.threads.DeleteMessage(ctx, id, requestingUser)
}

// ListMailbox lists one page of a user's messages.
func (h *Hub) ListMailbox(ctx context.Context, q MailboxQuery) (Page, error) {
	return h.threads.ListMailbox(ctx, q)
}

// OnlineUsers returns the users with at least one open connection.
func (h *Hub) OnlineUsers() []string {
	return h.registry.OnlineUsers()
}

func (h *Hub) lookup(ctx context.Context, username string, notFound error) (User, error) {
	u, err := h.users.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, fmt.Errorf("%w: %s", notFound, username)
	}
	if err != nil {
		return User{}, fmt.Errorf("%w: find user %s: %v", ErrPersistence, username, err)
	}
	return u, nil
}

func (h *Hub) trackPresence(conn Connection) {
	if h.registry.AddConnection(conn.Username, conn.ID) {
		h.notifier.UserOnline(conn.Username)
		logger.Info("user_online", "username", conn.Username)
	}
	h.metrics.UsersOnline(h.registry.Count())
}

func (h *Hub) untrackPresence(connectionID string) {
	username, offline := h.registry.RemoveConnection(connectionID)
	if username == "" {
		return
	}
	h.metrics.ConnectionClosed()
	if offline {
		h.notifier.UserOffline(username)
		logger.Info("user_offline", "username", username)
	}
	h.metrics.UsersOnline(h.registry.Count())
}

func (h *Hub) publish(ctx context.Context, groupName string, m Message) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishMessage(context.WithoutCancel(ctx), groupName, m); err != nil {
		logger.Warn("message_publish_failed", "id", m.ID, "group", groupName, "error", err)
	}
}
