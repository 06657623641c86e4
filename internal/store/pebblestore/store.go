// Package pebblestore stores users, messages and conversation groups in an
// embedded Pebble database.
//
// Key layout:
//
//	user:<lower-cased username>          -> User JSON
//	msg:<id>                             -> record JSON
//	thread:<group>:<sentAt nanos>:<id>   -> id
//	mbox:<username>:<sentAt nanos>:<id>  -> id (written for sender and recipient)
//	group:<name>                         -> Group JSON
//	conn:<connection id>                 -> group name
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
)

// Store is a Pebble backed implementation of the messaging store ports.
// Read-modify-write sequences are serialised by mu; plain reads go straight
// to the database.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	logger.Info("pebble_closed")
	return nil
}

// record is the stored form of a message. The soft-delete flags are not part
// of the message's wire encoding, so they are carried alongside it.
type record struct {
	messaging.Message
	SenderDeleted    bool `json:"senderDeleted"`
	RecipientDeleted bool `json:"recipientDeleted"`
}

func newRecord(m messaging.Message) record {
	return record{Message: m, SenderDeleted: m.SenderDeleted, RecipientDeleted: m.RecipientDeleted}
}

func (r record) message() messaging.Message {
	m := r.Message
	m.SenderDeleted = r.SenderDeleted
	m.RecipientDeleted = r.RecipientDeleted
	return m
}

// getMessage reads the message stored under id.
func (s *Store) getMessage(id string) (messaging.Message, bool, error) {
	var r record
	ok, err := s.getJSON(msgKey(id), &r)
	if err != nil || !ok {
		return messaging.Message{}, ok, err
	}
	return r.message(), true, nil
}

func userKey(username string) []byte { return []byte("user:" + strings.ToLower(username)) }

func msgKey(id string) []byte { return []byte("msg:" + id) }

func threadPrefix(group string) []byte { return []byte("thread:" + group + ":") }

func threadKey(m messaging.Message) []byte {
	group := messaging.GroupName(m.SenderUsername, m.RecipientUsername)
	return []byte(fmt.Sprintf("thread:%s:%020d:%s", group, m.SentAt.UnixNano(), m.ID))
}

func mboxPrefix(username string) []byte { return []byte("mbox:" + username + ":") }

func mboxKey(username string, m messaging.Message) []byte {
	return []byte(fmt.Sprintf("mbox:%s:%020d:%s", username, m.SentAt.UnixNano(), m.ID))
}

func groupKey(name string) []byte { return []byte("group:" + name) }

func connKey(id string) []byte { return []byte("conn:" + id) }

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) getString(key []byte) (string, bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer closer.Close()
	return string(data), true, nil
}

// scanValues returns copies of every value under prefix in key order.
func (s *Store) scanValues(prefix []byte) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, data, nil)
}

// PutUser creates or replaces a user.
func (s *Store) PutUser(ctx context.Context, u messaging.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.db.Set(userKey(u.Username), data, pebble.Sync)
}

// FindByUsername implements messaging.UserStore.
func (s *Store) FindByUsername(_ context.Context, username string) (messaging.User, error) {
	var u messaging.User
	ok, err := s.getJSON(userKey(username), &u)
	if err != nil {
		return messaging.User{}, err
	}
	if !ok {
		return messaging.User{}, messaging.ErrUserNotFound
	}
	return u, nil
}

// InsertMessage implements messaging.MessageStore.
func (s *Store) InsertMessage(_ context.Context, m messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, msgKey(m.ID), newRecord(m)); err != nil {
		return err
	}
	id := []byte(m.ID)
	if err := b.Set(threadKey(m), id, nil); err != nil {
		return err
	}
	if err := b.Set(mboxKey(m.SenderUsername, m), id, nil); err != nil {
		return err
	}
	if err := b.Set(mboxKey(m.RecipientUsername, m), id, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("save_message_failed", "id", m.ID, "error", err)
		return err
	}
	return nil
}

// GetMessage implements messaging.MessageStore.
func (s *Store) GetMessage(_ context.Context, id string) (messaging.Message, error) {
	m, ok, err := s.getMessage(id)
	if err != nil {
		return messaging.Message{}, err
	}
	if !ok {
		return messaging.Message{}, messaging.ErrStoredMsgNotFound
	}
	return m, nil
}

// loadMessages resolves the message ids listed under prefix, skipping index
// entries whose message has been removed.
func (s *Store) loadMessages(prefix []byte, keep func(messaging.Message) bool) ([]messaging.Message, error) {
	ids, err := s.scanValues(prefix)
	if err != nil {
		return nil, err
	}
	var out []messaging.Message
	for _, id := range ids {
		m, ok, err := s.getMessage(id)
		if err != nil {
			return nil, err
		}
		if ok && keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// QueryThread implements messaging.MessageStore.
func (s *Store) QueryThread(_ context.Context, q messaging.ThreadQuery) ([]messaging.Message, error) {
	msgs, err := s.loadMessages(threadPrefix(messaging.GroupName(q.Viewer, q.Other)), q.Matches)
	if err != nil {
		return nil, err
	}
	messaging.SortThread(msgs)
	return msgs, nil
}

// MarkRead implements messaging.MessageStore.
func (s *Store) MarkRead(_ context.Context, ids []string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		m, ok, err := s.getMessage(id)
		if err != nil {
			return err
		}
		if !ok || m.ReadAt != nil {
			continue
		}
		at := readAt
		m.ReadAt = &at
		if err := setJSON(b, msgKey(id), newRecord(m)); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// MarkDeleted implements messaging.MessageStore.
func (s *Store) MarkDeleted(_ context.Context, id string, sides messaging.DeleteSide) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok, err := s.getMessage(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, messaging.ErrStoredMsgNotFound
	}
	sides.Apply(&m)

	data, err := json.Marshal(newRecord(m))
	if err != nil {
		return false, err
	}
	if err := s.db.Set(msgKey(id), data, pebble.Sync); err != nil {
		return false, err
	}
	return m.SenderDeleted && m.RecipientDeleted, nil
}

// RemoveMessage implements messaging.MessageStore. The message and all of
// its index entries are deleted in one batch.
func (s *Store) RemoveMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok, err := s.getMessage(id)
	if err != nil {
		return err
	}
	if !ok {
		return messaging.ErrStoredMsgNotFound
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, key := range [][]byte{msgKey(id), threadKey(m), mboxKey(m.SenderUsername, m), mboxKey(m.RecipientUsername, m)} {
		if err := b.Delete(key, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// ListMailbox implements messaging.MessageStore.
func (s *Store) ListMailbox(_ context.Context, q messaging.MailboxQuery) ([]messaging.Message, int, error) {
	all, err := s.loadMessages(mboxPrefix(q.Username), q.Matches)
	if err != nil {
		return nil, 0, err
	}
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
	var g messaging.Group
	ok, err := s.getJSON(groupKey(name), &g)
	if err != nil {
		return messaging.Group{}, err
	}
	if !ok {
		return messaging.Group{}, messaging.ErrGroupNotFound
	}
	return g, nil
}

// CreateGroup implements messaging.GroupPersistence.
func (s *Store) CreateGroup(_ context.Context, name string) (messaging.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing messaging.Group
	ok, err := s.getJSON(groupKey(name), &existing)
	if err != nil {
		return messaging.Group{}, err
	}
	if ok {
		return messaging.Group{}, messaging.ErrGroupExists
	}

	g := messaging.Group{Name: name, Connections: []messaging.Connection{}}
	data, err := json.Marshal(g)
	if err != nil {
		return messaging.Group{}, err
	}
	if err := s.db.Set(groupKey(name), data, pebble.Sync); err != nil {
		return messaging.Group{}, err
	}
	return g, nil
}

// AddConnection implements messaging.GroupPersistence. A connection already
// in another group is moved.
func (s *Store) AddConnection(_ context.Context, groupName string, c messaging.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var g messaging.Group
	ok, err := s.getJSON(groupKey(groupName), &g)
	if err != nil {
		return err
	}
	if !ok {
		return messaging.ErrGroupNotFound
	}

	b := s.db.NewBatch()
	defer b.Close()

	prev, inGroup, err := s.getString(connKey(c.ID))
	if err != nil {
		return err
	}
	if inGroup && prev != groupName {
		var old messaging.Group
		if ok, err := s.getJSON(groupKey(prev), &old); err != nil {
			return err
		} else if ok {
			old.Connections = without(old.Connections, c.ID)
			if err := setJSON(b, groupKey(prev), old); err != nil {
				return err
			}
		}
	}

	g.Connections = append(without(g.Connections, c.ID), c)
	if err := setJSON(b, groupKey(groupName), g); err != nil {
		return err
	}
	if err := b.Set(connKey(c.ID), []byte(groupName), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// GetGroupForConnection implements messaging.GroupPersistence.
func (s *Store) GetGroupForConnection(ctx context.Context, connectionID string) (messaging.Group, error) {
	name, ok, err := s.getString(connKey(connectionID))
	if err != nil {
		return messaging.Group{}, err
	}
	if !ok {
		return messaging.Group{}, messaging.ErrConnectionNotFound
	}
	return s.GetGroup(ctx, name)
}

// RemoveConnection implements messaging.GroupPersistence.
func (s *Store) RemoveConnection(_ context.Context, connectionID string) (messaging.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok, err := s.getString(connKey(connectionID))
	if err != nil {
		return messaging.Group{}, err
	}
	if !ok {
		return messaging.Group{}, messaging.ErrConnectionNotFound
	}

	g := messaging.Group{Name: name}
	if _, err := s.getJSON(groupKey(name), &g); err != nil {
		return messaging.Group{}, err
	}
	g.Connections = without(g.Connections, connectionID)

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, groupKey(name), g); err != nil {
		return messaging.Group{}, err
	}
	if err := b.Delete(connKey(connectionID), nil); err != nil {
		return messaging.Group{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return messaging.Group{}, err
	}
	return g, nil
}

func without(conns []messaging.Connection, connectionID string) []messaging.Connection {
	out := make([]messaging.Connection, 0, len(conns))
	for _, c := range conns {
		if c.ID != connectionID {
			out = append(out, c)
		}
	}
	return out
}
