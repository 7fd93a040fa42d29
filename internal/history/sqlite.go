package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed message store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	// writeMu serializes Save so sequence assignment and insert are atomic
	// with respect to other writers in this process.
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		actor TEXT NOT NULL CHECK (actor IN ('user', 'agent')),
		content TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL, -- unix nanoseconds, UTC
		tool_calls TEXT,
		tool_responses TEXT,
		is_error INTEGER NOT NULL DEFAULT 0,
		UNIQUE (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save appends msg to its session.
func (s *SQLiteStore) Save(ctx context.Context, msg Message) (Message, error) {
	if err := validate(msg); err != nil {
		return Message{}, err
	}

	toolCalls, err := marshalNullable(msg.ToolCalls, len(msg.ToolCalls))
	if err != nil {
		return Message{}, fmt.Errorf("encode tool calls: %w", err)
	}
	toolResponses, err := marshalNullable(msg.ToolResponses, len(msg.ToolResponses))
	if err != nil {
		return Message{}, fmt.Errorf("encode tool responses: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	var lastSeq, lastNanos int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at), 0)
		FROM messages WHERE session_id = ?
	`, msg.SessionID).Scan(&lastSeq, &lastNanos)
	if err != nil {
		return Message{}, fmt.Errorf("read session head: %w", err)
	}

	var last time.Time
	if lastNanos > 0 {
		last = time.Unix(0, lastNanos).UTC()
	}

	stored := cloneMessage(msg)
	stored.ID = id.String()
	stored.Seq = lastSeq + 1
	stored.Timestamp = nextTimestamp(s.now(), last, time.Nanosecond)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, user_id, actor, content, seq, created_at, tool_calls, tool_responses, is_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.SessionID, stored.UserID, string(stored.Actor), stored.Content,
		stored.Seq, stored.Timestamp.UnixNano(), toolCalls, toolResponses, stored.IsError)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// Load returns the newest limit messages of a session, oldest first.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, actor, content, seq, created_at, tool_calls, tool_responses, is_error
		FROM messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, sessionID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	out := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// Stats returns store statistics.
func (s *SQLiteStore) Stats() map[string]any {
	var sessions, messages int
	_ = s.db.QueryRow(`SELECT COUNT(DISTINCT session_id), COUNT(*) FROM messages`).Scan(&sessions, &messages)
	return map[string]any{
		"backend":  "sqlite",
		"sessions": sessions,
		"messages": messages,
	}
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		m                        Message
		actor                    string
		createdAt                int64
		toolCalls, toolResponses sql.NullString
	)
	if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &actor, &m.Content, &m.Seq,
		&createdAt, &toolCalls, &toolResponses, &m.IsError); err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Actor = Actor(actor)
	m.Timestamp = time.Unix(0, createdAt).UTC()

	if toolCalls.Valid {
		if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
			return Message{}, fmt.Errorf("decode tool calls of %s: %w", m.ID, err)
		}
	}
	if toolResponses.Valid {
		if err := json.Unmarshal([]byte(toolResponses.String), &m.ToolResponses); err != nil {
			return Message{}, fmt.Errorf("decode tool responses of %s: %w", m.ID, err)
		}
	}
	return m, nil
}

// marshalNullable encodes v as JSON, or returns nil (SQL NULL) when n is zero.
func marshalNullable(v any, n int) (any, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
