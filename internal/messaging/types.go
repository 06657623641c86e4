// Package messaging defines the message, connection and conversation group
// types shared by the hub, the thread service and the storage backends.
package messaging

import (
	"sort"
	"strings"
	"time"
)

// User is the identity a username resolves to in the user store.
type User struct {
	Username string `json:"username"`
	KnownAs  string `json:"knownAs"`
}

// Message is a directed chat message between two users.
// ReadAt is nil until the recipient has been shown the message and is never
// cleared once set.
type Message struct {
	ID                string     `json:"id"`
	SenderUsername    string     `json:"senderUsername"`
	RecipientUsername string     `json:"recipientUsername"`
	Content           string     `json:"content"`
	SentAt            time.Time  `json:"sentAt"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	SenderDeleted     bool       `json:"-"`
	RecipientDeleted  bool       `json:"-"`
}

// IsUnreadFor reports whether the message is addressed to username and has
// not been read yet.
func (m Message) IsUnreadFor(username string) bool {
	return m.RecipientUsername == username && m.ReadAt == nil
}

// Connection is one physical transport session owned by a user.
type Connection struct {
	ID       string `json:"connectionId"`
	Username string `json:"username"`
}

// Group is the set of connections currently viewing one two-party
// conversation. An empty group is valid and means nobody is viewing.
type Group struct {
	Name        string       `json:"name"`
	Connections []Connection `json:"connections"`
}

// HasMember reports whether any connection in the group belongs to username.
func (g Group) HasMember(username string) bool {
	for _, c := range g.Connections {
		if c.Username == username {
			return true
		}
	}
	return false
}

// MembersViewing returns the distinct usernames owning a connection in the
// group, sorted.
func (g Group) MembersViewing() []string {
	seen := make(map[string]struct{}, len(g.Connections))
	out := make([]string, 0, len(g.Connections))
	for _, c := range g.Connections {
		if _, ok := seen[c.Username]; ok {
			continue
		}
		seen[c.Username] = struct{}{}
		out = append(out, c.Username)
	}
	sort.Strings(out)
	return out
}

// GroupName returns the conversation group name for an unordered pair of
// usernames. The two names are ordered by byte comparison and joined with a
// dash, which usernames may not contain.
func GroupName(a, b string) string {
	if strings.Compare(a, b) < 0 {
		return a + "-" + b
	}
	return b + "-" + a
}

// ThreadQuery selects the conversation between Viewer and Other as seen by
// Viewer: messages Viewer sent and has not deleted, plus messages Viewer
// received and has not deleted.
type ThreadQuery struct {
	Viewer string
	Other  string
}

// Matches applies the thread predicate to a single message.
func (q ThreadQuery) Matches(m Message) bool {
	if m.SenderUsername == q.Viewer && m.RecipientUsername == q.Other && !m.SenderDeleted {
		return true
	}
	return m.SenderUsername == q.Other && m.RecipientUsername == q.Viewer && !m.RecipientDeleted
}

// Mailbox containers accepted by MailboxQuery.
const (
	ContainerInbox  = "inbox"
	ContainerOutbox = "outbox"
	ContainerUnread = "unread"
)

// MailboxQuery lists one user's messages across all conversations.
type MailboxQuery struct {
	Username  string
	Container string
	Limit     int
	Offset    int
}

// Matches applies the container predicate to a single message.
func (q MailboxQuery) Matches(m Message) bool {
	switch q.Container {
	case ContainerInbox:
		return m.RecipientUsername == q.Username && !m.RecipientDeleted
	case ContainerOutbox:
		return m.SenderUsername == q.Username && !m.SenderDeleted
	default:
		return m.RecipientUsername == q.Username && !m.RecipientDeleted && m.ReadAt == nil
	}
}

// SortThread orders messages ascending by SentAt, falling back to ID so that
// messages sharing a timestamp keep a stable order.
func SortThread(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}

// SortMailbox orders messages newest first.
func SortMailbox(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].SentAt.After(msgs[j].SentAt)
	})
}

// Page is one window of a mailbox listing.
type Page struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}
