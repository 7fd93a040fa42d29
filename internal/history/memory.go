package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps messages in process memory. It backs the ask CLI and
// tests; everything is lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]Message),
		now:      time.Now,
	}
}

// Save appends msg to its session.
func (s *MemoryStore) Save(_ context.Context, msg Message) (Message, error) {
	if err := validate(msg); err != nil {
		return Message{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.sessions[msg.SessionID]
	var last time.Time
	var seq int64
	if n := len(msgs); n > 0 {
		last = msgs[n-1].Timestamp
		seq = msgs[n-1].Seq
	}

	stored := cloneMessage(msg)
	stored.ID = id.String()
	stored.Seq = seq + 1
	stored.Timestamp = nextTimestamp(s.now(), last, time.Nanosecond)

	s.sessions[msg.SessionID] = append(msgs, stored)
	return cloneMessage(stored), nil
}

// Load returns the newest limit messages of a session, oldest first.
func (s *MemoryStore) Load(_ context.Context, sessionID string, limit int) ([]Message, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, msgs := range s.sessions {
		total += len(msgs)
	}
	return map[string]any{
		"backend":  "memory",
		"sessions": len(s.sessions),
		"messages": total,
	}
}
