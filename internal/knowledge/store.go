package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists knowledge base chunks in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the knowledge database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		heading TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		embedding BLOB,
		UNIQUE (source, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceSource swaps every chunk of source for chunks in one
// transaction, so a re-ingested document never appears half-updated.
// Chunk IDs are assigned here; the returned slice carries them.
func (s *Store) ReplaceSource(ctx context.Context, source string, chunks []Chunk) ([]Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return nil, fmt.Errorf("delete source %s: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source, chunk_index, heading, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.ID = uuid.NewString()
		c.Source = source
		c.Index = i
		if _, err := stmt.ExecContext(ctx, c.ID, c.Source, c.Index, c.Heading, c.Text, encodeEmbedding(c.Embedding)); err != nil {
			return nil, fmt.Errorf("insert chunk %d of %s: %w", i, source, err)
		}
		out[i] = c
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// All returns every stored chunk ordered by source and position.
func (s *Store) All(ctx context.Context) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, chunk_index, heading, text, embedding
		FROM chunks
		ORDER BY source, chunk_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c   Chunk
			emb []byte
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Index, &c.Heading, &c.Text, &emb); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = decodeEmbedding(emb)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Sources lists ingested documents with their chunk counts.
func (s *Store) Sources(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM chunks GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out[source] = n
	}
	return out, rows.Err()
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}
