package audit

import (
	"time"

	"github.com/nugget/noah-ai-agent/internal/agent"
)

// EventTurnCompleted is the type of the event emitted after every turn.
const EventTurnCompleted = "turn.completed"

// Event describes one finished turn. It carries identifiers and routing
// metadata only; message content stays in the history store.
type Event struct {
	Type          string    `json:"type"`
	Instance      string    `json:"instance"`
	Time          time.Time `json:"time"`
	SessionID     string    `json:"session_id"`
	UserRecordID  string    `json:"user_record_id,omitempty"`
	AgentRecordID string    `json:"agent_record_id,omitempty"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Path          []string  `json:"path"`
	Tools         []string  `json:"tools,omitempty"`
	Iterations    int       `json:"iterations"`
	Draft         string    `json:"draft,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
}

// NewTurnEvent builds the event for res.
func NewTurnEvent(instance string, res *agent.TurnResult, now time.Time) Event {
	ev := Event{
		Type:          EventTurnCompleted,
		Instance:      instance,
		Time:          now.UTC(),
		SessionID:     res.SessionID,
		UserRecordID:  res.UserRecordID,
		AgentRecordID: res.AgentRecordID,
		Status:        string(res.Status),
		Iterations:    res.Iterations,
		Draft:         string(res.Draft),
		DurationMS:    res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	ev.Path = make([]string, len(res.Path))
	for i, s := range res.Path {
		ev.Path[i] = string(s)
	}
	for _, c := range res.ToolCalls {
		ev.Tools = append(ev.Tools, c.Name)
	}
	return ev
}
