package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const messageColumns = `id, sender_username, recipient_username, content, sent_at, read_at, sender_deleted, recipient_deleted`

// Store implements the messaging store ports on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (messaging.Message, error) {
	var m messaging.Message
	err := row.Scan(&m.ID, &m.SenderUsername, &m.RecipientUsername, &m.Content, &m.SentAt, &m.ReadAt, &m.SenderDeleted, &m.RecipientDeleted)
	if err != nil {
		return messaging.Message{}, err
	}
	m.SentAt = m.SentAt.UTC()
	if m.ReadAt != nil {
		at := m.ReadAt.UTC()
		m.ReadAt = &at
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]messaging.Message, error) {
	defer rows.Close()
	var out []messaging.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// PutUser creates or replaces a user.
func (s *Store) PutUser(ctx context.Context, u messaging.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, known_as) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET known_as = EXCLUDED.known_as
	`, u.Username, u.KnownAs)
	return err
}

// FindByUsername implements messaging.UserStore.
func (s *Store) FindByUsername(ctx context.Context, username string) (messaging.User, error) {
	var u messaging.User
	err := s.pool.QueryRow(ctx,
		"SELECT username, known_as FROM users WHERE lower(username) = lower($1)",
		username,
	).Scan(&u.Username, &u.KnownAs)
	if errors.Is(err, pgx.ErrNoRows) {
		return messaging.User{}, messaging.ErrUserNotFound
	}
	return u, err
}

// InsertMessage implements messaging.MessageStore.
func (s *Store) InsertMessage(ctx context.Context, m messaging.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.SenderUsername, m.RecipientUsername, m.Content, m.SentAt, m.ReadAt, m.SenderDeleted, m.RecipientDeleted)
	return err
}

// GetMessage implements messaging.MessageStore.
func (s *Store) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return messaging.Message{}, messaging.ErrStoredMsgNotFound
	}
	return m, err
}

// QueryThread implements messaging.MessageStore.
func (s *Store) QueryThread(ctx context.Context, q messaging.ThreadQuery) ([]messaging.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_username = $1 AND recipient_username = $2 AND NOT sender_deleted)
		   OR (sender_username = $2 AND recipient_username = $1 AND NOT recipient_deleted)
		ORDER BY sent_at, id
	`, q.Viewer, q.Other)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MarkRead implements messaging.MessageStore.
func (s *Store) MarkRead(ctx context.Context, ids []string, readAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE messages SET read_at = $2 WHERE id = ANY($1) AND read_at IS NULL",
		ids, readAt,
	)
	return err
}

// MarkDeleted implements messaging.MessageStore. Each flag is OR-ed in
// place, so concurrent deletes by the two parties cannot clear each other.
func (s *Store) MarkDeleted(ctx context.Context, id string, sides messaging.DeleteSide) (bool, error) {
	var both bool
	err := s.pool.QueryRow(ctx, `
		UPDATE messages
		SET sender_deleted = sender_deleted OR $2,
		    recipient_deleted = recipient_deleted OR $3
		WHERE id = $1
		RETURNING sender_deleted AND recipient_deleted
	`, id, sides&messaging.SenderSide != 0, sides&messaging.RecipientSide != 0).Scan(&both)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, messaging.ErrStoredMsgNotFound
	}
	return both, err
}

// RemoveMessage implements messaging.MessageStore.
func (s *Store) RemoveMessage(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return messaging.ErrStoredMsgNotFound
	}
	return nil
}

func mailboxFilter(container string) string {
	switch container {
	case messaging.ContainerInbox:
		return "recipient_username = $1 AND NOT recipient_deleted"
	case messaging.ContainerOutbox:
		return "sender_username = $1 AND NOT sender_deleted"
	default:
		return "recipient_username = $1 AND NOT recipient_deleted AND read_at IS NULL"
	}
}

// ListMailbox implements messaging.MessageStore.
func (s *Store) ListMailbox(ctx context.Context, q messaging.MailboxQuery) ([]messaging.Message, int, error) {
	where := mailboxFilter(q.Container)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM messages WHERE "+where, q.Username).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+where+`
		ORDER BY sent_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, q.Username, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// GetGroup implements messaging.GroupPersistence.
func (s *Store) GetGroup(ctx context.Context, name string) (messaging.Group, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM chat_groups WHERE name = $1)", name).Scan(&exists); err != nil {
		return messaging.Group{}, err
	}
	if !exists {
		return messaging.Group{}, messaging.ErrGroupNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT connection_id, username
		FROM group_connections
		WHERE group_name = $1
		ORDER BY joined_at, connection_id
	`, name)
	if err != nil {
		return messaging.Group{}, err
	}
	defer rows.Close()

	g := messaging.Group{Name: name, Connections: []messaging.Connection{}}
	for rows.Next() {
		var c messaging.Connection
		if err := rows.Scan(&c.ID, &c.Username); err != nil {
			return messaging.Group{}, err
		}
		g.Connections = append(g.Connections, c)
	}
	if rows.Err() != nil {
		return messaging.Group{}, rows.Err()
	}
	return g, nil
}

// CreateGroup implements messaging.GroupPersistence.
func (s *Store) CreateGroup(ctx context.Context, name string) (messaging.Group, error) {
	_, err := s.pool.Exec(ctx, "INSERT INTO chat_groups (name) VALUES ($1)", name)
	if pgCode(err) == uniqueViolation {
		return messaging.Group{}, messaging.ErrGroupExists
	}
	if err != nil {
		return messaging.Group{}, err
	}
	return messaging.Group{Name: name, Connections: []messaging.Connection{}}, nil
}

// AddConnection implements messaging.GroupPersistence. The upsert moves a
// connection that already belongs to another group.
func (s *Store) AddConnection(ctx context.Context, groupName string, c messaging.Connection) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_connections (connection_id, username, group_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id)
		DO UPDATE SET username = EXCLUDED.username,
		              group_name = EXCLUDED.group_name,
		              joined_at = now()
	`, c.ID, c.Username, groupName)
	if pgCode(err) == foreignKeyViolation {
		return messaging.ErrGroupNotFound
	}
	return err
}

// GetGroupForConnection implements messaging.GroupPersistence.
func (s *Store) GetGroupForConnection(ctx context.Context, connectionID string) (messaging.Group, error) {
	var name string
	err := s.pool.QueryRow(ctx, "SELECT group_name FROM group_connections WHERE connection_id = $1", connectionID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return messaging.Group{}, messaging.ErrConnectionNotFound
	}
	if err != nil {
		return messaging.Group{}, err
	}
	return s.GetGroup(ctx, name)
}

// RemoveConnection implements messaging.GroupPersistence.
func (s *Store) RemoveConnection(ctx context.Context, connectionID string) (messaging.Group, error) {
	var name string
	err := s.pool.QueryRow(ctx, "DELETE FROM group_connections WHERE connection_id = $1 RETURNING group_name", connectionID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return messaging.Group{}, messaging.ErrConnectionNotFound
	}
	if err != nil {
		return messaging.Group{}, err
	}
	return s.GetGroup(ctx, name)
}
