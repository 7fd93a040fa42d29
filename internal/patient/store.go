package patient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryStore keeps patient logs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]Log
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]Log), now: time.Now}
}

// Append stores entry.
func (s *MemoryStore) Append(_ context.Context, entry Log) (Log, error) {
	if err := validate(entry); err != nil {
		return Log{}, err
	}
	entry = prepare(entry, uuid.NewString(), s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.PatientID] = append(s.logs[entry.PatientID], entry)
	return entry, nil
}

// List returns the newest entries for a patient.
func (s *MemoryStore) List(_ context.Context, patientID string, limit int) ([]Log, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	out := append([]Log(nil), s.logs[patientID]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Log{}
	}
	return out, nil
}

// tsLayout is fixed width so timestamps sort lexically in SQL. Values are
// always UTC.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite-backed patient log store.
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
	CREATE TABLE IF NOT EXISTS patient_data_logs (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		data_type TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patient_logs_patient ON patient_data_logs(patient_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores entry.
func (s *SQLiteStore) Append(ctx context.Context, entry Log) (Log, error) {
	if err := validate(entry); err != nil {
		return Log{}, err
	}
	entry = prepare(entry, uuid.NewString(), s.now())

	content, err := json.Marshal(entry.Content)
	if err != nil {
		return Log{}, fmt.Errorf("encode content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patient_data_logs (id, patient_id, created_by, timestamp, data_type, content, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.PatientID, entry.CreatedBy,
		entry.Timestamp.Format(tsLayout), string(entry.DataType),
		string(content), entry.Source, entry.CreatedAt.Format(tsLayout))
	if err != nil {
		return Log{}, fmt.Errorf("insert patient log: %w", err)
	}
	return entry, nil
}

// List returns the newest entries for a patient.
func (s *SQLiteStore) List(ctx context.Context, patientID string, limit int) ([]Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, created_by, timestamp, data_type, content, source, created_at
		FROM patient_data_logs
		WHERE patient_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, patientID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query patient logs: %w", err)
	}
	defer rows.Close()

	out := []Log{}
	for rows.Next() {
		var (
			l                    Log
			ts, created, content string
			dataType             string
		)
		if err := rows.Scan(&l.ID, &l.PatientID, &l.CreatedBy, &ts, &dataType, &content, &l.Source, &created); err != nil {
			return nil, fmt.Errorf("scan patient log: %w", err)
		}
		l.DataType = DataType(dataType)
		l.Timestamp, _ = time.Parse(tsLayout, ts)
		l.CreatedAt, _ = time.Parse(tsLayout, created)
		if err := json.Unmarshal([]byte(content), &l.Content); err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", l.ID, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
