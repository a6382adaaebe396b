package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat-relay/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	last_seen INTEGER
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	is_group INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	admin_id TEXT NOT NULL DEFAULT '',
	direct_key TEXT UNIQUE,
	last_message_id TEXT NOT NULL DEFAULT '',
	last_activity INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants (user_id);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS message_reads (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	read_at INTEGER NOT NULL,
	PRIMARY KEY (message_id, user_id)
);`

type sqliteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewStore opens the database at dataSourceName and creates the schema.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	var (
		user     core.User
		lastSeen sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, name, last_seen FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Name, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		user.LastSeen = fromNanos(lastSeen.Int64)
	}
	return &user, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END`,
		user.ID, user.Name)
	return err
}

func (s *sqliteStore) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET last_seen = ? WHERE id = ?", at.UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) FindOrCreateDirect(ctx context.Context, a, b string) (*core.Conversation, error) {
	conv, err := core.NewDirectConversation(ulid.Make().String(), a, b, time.Now())
	if err != nil {
		return nil, err
	}
	key := core.DirectKey(a, b)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, direct_key, last_activity, created_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(direct_key) DO NOTHING`,
		conv.ID, key, conv.LastActivity.UnixNano(), conv.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert direct conversation: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		if err := insertParticipants(ctx, tx, conv); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"participants":    conv.Participants,
		}).Info("Direct conversation created")
		return conv, nil
	}

	var id string
	if err := tx.QueryRowContext(ctx, "SELECT id FROM conversations WHERE direct_key = ?", key).Scan(&id); err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	existing, err := loadConversation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return existing, tx.Commit()
}

func (s *sqliteStore) CreateGroup(ctx context.Context, name, adminID string, participants []string) (*core.Conversation, error) {
	conv, err := core.NewGroupConversation(ulid.Make().String(), name, adminID, participants, time.Now())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, name, admin_id, last_activity, created_at)
		VALUES (?, 1, ?, ?, ?, ?)`,
		conv.ID, conv.Name, conv.AdminID, conv.LastActivity.UnixNano(), conv.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert group conversation: %w", err)
	}
	if err := insertParticipants(ctx, tx, conv); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participants":    len(conv.Participants),
	}).Info("Group conversation created")
	return conv, nil
}

func insertParticipants(ctx context.Context, q querier, conv *core.Conversation) error {
	for _, uid := range conv.Participants {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)",
			conv.ID, uid); err != nil {
			return fmt.Errorf("insert participant %s: %w", uid, err)
		}
	}
	return nil
}

func (s *sqliteStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	return loadConversation(ctx, s.db, id)
}

func loadConversation(ctx context.Context, q querier, id string) (*core.Conversation, error) {
	var (
		conv                    core.Conversation
		isGroup                 int
		lastActivity, createdAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, is_group, name, admin_id, last_message_id, last_activity, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &isGroup, &conv.Name, &conv.AdminID, &conv.LastMessageID, &lastActivity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	conv.IsGroup = isGroup == 1
	conv.LastActivity = fromNanos(lastActivity)
	conv.CreatedAt = fromNanos(createdAt)

	rows, err := q.QueryContext(ctx,
		"SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		conv.Participants = append(conv.Participants, uid)
	}
	return &conv, rows.Err()
}

func (s *sqliteStore) FindConversationsForUser(ctx context.Context, userID string) ([]*core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT conversation_id FROM conversation_participants WHERE user_id = ? ORDER BY conversation_id", userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	convs := make([]*core.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := loadConversation(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (s *sqliteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) AppendMessage(ctx context.Context, msg *core.Message) error {
	log := logrus.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = ?, last_activity = ? WHERE id = ?",
		msg.ID, msg.CreatedAt.UnixNano(), msg.ConversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), msg.CreatedAt.UnixNano()); err != nil {
		log.WithError(err).Error("Failed to insert message")
		return err
	}
	for _, r := range msg.ReadBy {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)
			ON CONFLICT(message_id, user_id) DO NOTHING`,
			msg.ID, r.UserID, r.ReadAt.UnixNano()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug("Message stored")
	return nil
}

func (s *sqliteStore) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	var (
		msg       core.Message
		msgType   string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, type, created_at
		FROM messages WHERE id = ?`, id).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msgType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	msg.Type = core.MessageType(msgType)
	msg.CreatedAt = fromNanos(createdAt)

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, read_at FROM message_reads WHERE message_id = ? ORDER BY read_at, user_id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r      core.ReadReceipt
			readAt int64
		)
		if err := rows.Scan(&r.UserID, &readAt); err != nil {
			return nil, err
		}
		r.ReadAt = fromNanos(readAt)
		msg.ReadBy = append(msg.ReadBy, r)
	}
	return &msg, rows.Err()
}

func (s *sqliteStore) AppendReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE id = ?", messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING`,
		messageID, userID, at.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, tx.Commit()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n)
}
