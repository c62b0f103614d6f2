package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conv_id TEXT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conv_id ON messages(conv_id);
`

// SQLiteConversationStore is the reference ConversationStore, backed by the
// pure-Go modernc.org/sqlite driver. A cgo build (github.com/mattn/go-sqlite3)
// is available behind the sqlite_cgo build tag for deployments that already
// link cgo and want the faster driver; both speak the same schema through
// database/sql so SQLiteConversationStore itself never changes.
type SQLiteConversationStore struct {
	db *sql.DB
}

// OpenSQLiteConversationStore opens (creating if necessary) a SQLite
// database at path and ensures its schema exists. Pass ":memory:" for an
// ephemeral store.
func OpenSQLiteConversationStore(path string) (*SQLiteConversationStore, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteConversationStore{db: db}, nil
}

// NewSQLiteConversationStoreFromDB wraps an already-open *sql.DB, for tests
// that substitute a go-sqlmock connection.
func NewSQLiteConversationStoreFromDB(db *sql.DB) *SQLiteConversationStore {
	return &SQLiteConversationStore{db: db}
}

func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteConversationStore) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	conv := Conversation{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Conversation{}, ErrAlreadyExists
		}
		return Conversation{}, fmt.Errorf("store: create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteConversationStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM conversations WHERE id = ?`, id)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("store: get conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteConversationStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return convs, nil
}

func (s *SQLiteConversationStore) AppendMessage(ctx context.Context, convID string, msg Message) (Message, error) {
	if _, err := s.GetConversation(ctx, convID); err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConvID = convID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conv_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConvID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Message{}, ErrAlreadyExists
		}
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteConversationStore) UpdateMessageContent(ctx context.Context, msgID string, content string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, content, msgID)
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteConversationStore) ListMessages(ctx context.Context, convID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conv_id, role, content, created_at FROM messages WHERE conv_id = ? ORDER BY created_at ASC`,
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
