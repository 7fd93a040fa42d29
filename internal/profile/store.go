package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile), now: time.Now}
}

// Get returns the profile for userID.
func (s *MemoryStore) Get(_ context.Context, userID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return clone(p), nil
}

// Apply merges u into the profile for userID.
func (s *MemoryStore) Apply(_ context.Context, userID string, u Update) (Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[userID]
	if u.Empty() {
		if !ok {
			return Profile{}, false, ErrNotFound
		}
		return clone(current), false, nil
	}

	var base *Profile
	if ok {
		base = &current
	}
	p, err := merge(base, userID, u, s.now().UTC())
	if err != nil {
		return Profile{}, false, err
	}
	s.profiles[userID] = clone(p)
	return p, !ok, nil
}

func clone(p Profile) Profile {
	p.Preferences = maps.Clone(p.Preferences)
	return p
}

// tsLayout is fixed width so timestamps sort lexically in SQL. Values are
// always UTC.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite-backed profile store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
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
	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		preferences TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the profile for userID.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (Profile, error) {
	return s.get(ctx, s.db, userID)
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, userID string) (Profile, error) {
	var (
		p                         Profile
		role, prefs, created, upd string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, role, display_name, preferences, created_at, updated_at
		FROM user_profiles WHERE user_id = ?
	`, userID).Scan(&p.UserID, &role, &p.DisplayName, &prefs, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("query profile: %w", err)
	}

	p.Role = Role(role)
	p.CreatedAt, _ = time.Parse(tsLayout, created)
	p.UpdatedAt, _ = time.Parse(tsLayout, upd)
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return Profile{}, fmt.Errorf("decode preferences of %s: %w", p.UserID, err)
	}
	if p.Preferences == nil {
		p.Preferences = map[string]any{}
	}
	return p, nil
}

// Apply merges u into the profile for userID inside one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, userID string, u Update) (Profile, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	current, err := s.get(ctx, tx, userID)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Profile{}, false, err
	}
	if u.Empty() {
		if !exists {
			return Profile{}, false, ErrNotFound
		}
		return current, false, nil
	}

	var base *Profile
	if exists {
		base = &current
	}
	p, err := merge(base, userID, u, s.now().UTC())
	if err != nil {
		return Profile{}, false, err
	}

	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return Profile{}, false, fmt.Errorf("%w: preferences: %v", ErrInvalidProfile, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, role, display_name, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			role = excluded.role,
			display_name = excluded.display_name,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at
	`, p.UserID, string(p.Role), p.DisplayName, string(prefs),
		p.CreatedAt.Format(tsLayout), p.UpdatedAt.Format(tsLayout))
	if err != nil {
		return Profile{}, false, fmt.Errorf("upsert profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Profile{}, false, fmt.Errorf("commit: %w", err)
	}
	return p, !exists, nil
}
