// Package history is the append-only ledger of conversation turns.
//
// Each turn contributes at most two records: the nurse's USER message and
// the agent's AGENT message. AGENT records carry the tool calls the agent
// made during the turn and the responses those calls produced. Records
// are never updated or deleted by this package; retention is handled
// outside the service.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Actor identifies who authored a message. There are exactly two.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// Valid reports whether a is one of the known actors.
func (a Actor) Valid() bool {
	return a == ActorUser || a == ActorAgent
}

// DefaultLoadLimit is the number of prior messages loaded for a turn when
// the caller does not specify one.
const DefaultLoadLimit = 20

// ErrInvalidMessage is returned by Save for records that violate the
// message shape (unknown actor, tool data on a USER record, ...).
var ErrInvalidMessage = errors.New("invalid message")

// Message is one persisted turn half.
type Message struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	Actor         Actor          `json:"actor"`
	Content       string         `json:"content"`
	Timestamp     time.Time      `json:"timestamp"`
	Seq           int64          `json:"seq"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	ToolResponses []ToolResponse `json:"tool_responses,omitempty"`
	IsError       bool           `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResponse is the result of one ToolCall. Content is opaque: text,
// structured data, or an error payload of the form {"error": "..."}.
type ToolResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    any    `json:"content"`
}

// ErrorContent builds the distinguished error payload for a ToolResponse.
func ErrorContent(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// IsError reports whether the response carries the error payload shape.
func (r ToolResponse) IsError() bool {
	m, ok := r.Content.(map[string]any)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}

// ContentString renders Content for a model prompt. Strings pass through
// unchanged; everything else is JSON encoded.
func (r ToolResponse) ContentString() string {
	if s, ok := r.Content.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Content)
	if err != nil {
		return fmt.Sprintf(`{"error":"unencodable tool content: %s"}`, err)
	}
	return string(b)
}

// Store persists and retrieves messages. Implementations assign ID,
// Timestamp and Seq at write time; both Timestamp and Seq strictly
// increase within a session.
type Store interface {
	// Save appends msg and returns it with server-assigned fields set.
	Save(ctx context.Context, msg Message) (Message, error)

	// Load returns the newest limit messages of a session, oldest first.
	// An unknown session yields an empty slice and no error.
	Load(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// validate checks the invariants every backend enforces before writing.
func validate(msg Message) error {
	if msg.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidMessage)
	}
	if !msg.Actor.Valid() {
		return fmt.Errorf("%w: unknown actor %q", ErrInvalidMessage, msg.Actor)
	}
	if msg.Actor == ActorUser {
		if len(msg.ToolCalls) > 0 || len(msg.ToolResponses) > 0 {
			return fmt.Errorf("%w: tool data is only allowed on agent messages", ErrInvalidMessage)
		}
		if msg.IsError {
			return fmt.Errorf("%w: only agent messages can be marked as errors", ErrInvalidMessage)
		}
	}
	return nil
}

// normalizeLimit maps non-positive limits to DefaultLoadLimit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLoadLimit
	}
	return limit
}

// nextTimestamp truncates now to the backend's clock resolution and
// nudges it forward so it is strictly after last.
func nextTimestamp(now, last time.Time, resolution time.Duration) time.Time {
	now = now.UTC().Truncate(resolution)
	if !now.After(last) {
		return last.Add(resolution)
	}
	return now
}

func cloneMessage(m Message) Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolResponses != nil {
		out.ToolResponses = append([]ToolResponse(nil), m.ToolResponses...)
	}
	return out
}
