// Package memory implements the messaging stores in process memory. It backs
// the server when no database is configured and is used throughout the tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

// Store holds users, messages and conversation groups behind one mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[string]messaging.User         // lower-cased username -> user
	messages map[string]messaging.Message      // id -> message
	groups   map[string][]messaging.Connection // group name -> connections
	connOf   map[string]string                 // connection id -> group name
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]messaging.User),
		messages: make(map[string]messaging.Message),
		groups:   make(map[string][]messaging.Connection),
		connOf:   make(map[string]string),
	}
}

// AddUser registers u. Usernames are matched case-insensitively.
func (s *Store) AddUser(u messaging.User) {
	s.mu.Lock()
	s.users[strings.ToLower(u.Username)] = u
	s.mu.Unlock()
}

// FindByUsername implements messaging.UserStore.
func (s *Store) FindByUsername(_ context.Context, username string) (messaging.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return messaging.User{}, messaging.ErrUserNotFound
	}
	return u, nil
}

// InsertMessage implements messaging.MessageStore.
func (s *Store) InsertMessage(_ context.Context, m messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

// GetMessage implements messaging.MessageStore.
func (s *Store) GetMessage(_ context.Context, id string) (messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return messaging.Message{}, messaging.ErrStoredMsgNotFound
	}
	return cloneMessage(m), nil
}

// QueryThread implements messaging.MessageStore.
func (s *Store) QueryThread(_ context.Context, q messaging.ThreadQuery) ([]messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []messaging.Message
	for _, m := range s.messages {
		if q.Matches(m) {
			out = append(out, cloneMessage(m))
		}
	}
	messaging.SortThread(out)
	return out, nil
}

// MarkRead implements messaging.MessageStore.
func (s *Store) MarkRead(_ context.Context, ids []string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.ReadAt != nil {
			continue
		}
		at := readAt
		m.ReadAt = &at
		s.messages[id] = m
	}
	return nil
}

// MarkDeleted implements messaging.MessageStore.
func (s *Store) MarkDeleted(_ context.Context, id string, sides messaging.DeleteSide) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return false, messaging.ErrStoredMsgNotFound
	}
	sides.Apply(&m)
	s.messages[id] = m
	return m.SenderDeleted && m.RecipientDeleted, nil
}

// RemoveMessage implements messaging.MessageStore.
func (s *Store) RemoveMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return messaging.ErrStoredMsgNotFound
	}
	delete(s.messages, id)
	return nil
}

// ListMailbox implements messaging.MessageStore.
func (s *Store) ListMailbox(_ context.Context, q messaging.MailboxQuery) ([]messaging.Message, int, error) {
	s.mu.RLock()
	var all []messaging.Message
	for _, m := range s.messages {
		if q.Matches(m) {
			all = append(all, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	messaging.SortMailbox(all)
	total := len(all)
	if q.Offset >= total {
		return []messaging.Message{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return all[q.Offset:end], total, nil
}

// GetGroup implements messaging.GroupPersistence.
func (s *Store) GetGroup(_ context.Context, name string) (messaging.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns, ok := s.groups[name]
	if !ok {
		return messaging.Group{}, messaging.ErrGroupNotFound
	}
	return groupOf(name, conns), nil
}

// CreateGroup implements messaging.GroupPersistence.
func (s *Store) CreateGroup(_ context.Context, name string) (messaging.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[name]; ok {
		return messaging.Group{}, messaging.ErrGroupExists
	}
	s.groups[name] = []messaging.Connection{}
	return messaging.Group{Name: name, Connections: []messaging.Connection{}}, nil
}

// AddConnection implements messaging.GroupPersistence. A connection already
// in another group is moved.
func (s *Store) AddConnection(_ context.Context, groupName string, c messaging.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupName]; !ok {
		return messaging.ErrGroupNotFound
	}
	if prev, ok := s.connOf[c.ID]; ok {
		s.removeLocked(prev, c.ID)
	}
	s.groups[groupName] = append(s.groups[groupName], c)
	s.connOf[c.ID] = groupName
	return nil
}

// GetGroupForConnection implements messaging.GroupPersistence.
func (s *Store) GetGroupForConnection(_ context.Context, connectionID string) (messaging.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.connOf[connectionID]
	if !ok {
		return messaging.Group{}, messaging.ErrConnectionNotFound
	}
	return groupOf(name, s.groups[name]), nil
}

// RemoveConnection implements messaging.GroupPersistence.
func (s *Store) RemoveConnection(_ context.Context, connectionID string) (messaging.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.connOf[connectionID]
	if !ok {
		return messaging.Group{}, messaging.ErrConnectionNotFound
	}
	s.removeLocked(name, connectionID)
	return groupOf(name, s.groups[name]), nil
}

func (s *Store) removeLocked(name, connectionID string) {
	conns := s.groups[name]
	kept := conns[:0]
	for _, c := range conns {
		if c.ID != connectionID {
			kept = append(kept, c)
		}
	}
	s.groups[name] = kept
	delete(s.connOf, connectionID)
}

func groupOf(name string, conns []messaging.Connection) messaging.Group {
	out := make([]messaging.Connection, len(conns))
	copy(out, conns)
	return messaging.Group{Name: name, Connections: out}
}

func cloneMessage(m messaging.Message) messaging.Message {
	if m.ReadAt != nil {
		at := *m.ReadAt
		m.ReadAt = &at
	}
	return m
}
