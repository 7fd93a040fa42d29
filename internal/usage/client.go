package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/noah-ai-agent/internal/config"
	"github.com/nugget/noah-ai-agent/internal/llm"
	"github.com/nugget/noah-ai-agent/internal/tools"
)

// Recorder is the write side of a usage store.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Client wraps an llm.Client and records the token usage of every
// successful Chat call. Recording failures are logged and never fail
// the call.
type Client struct {
	next     llm.Client
	recorder Recorder
	purpose  string
	pricing  map[string]config.PricingEntry
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient returns a recording wrapper around next. Records are tagged
// with purpose and attributed to the session carried by the call context.
func NewClient(next llm.Client, recorder Recorder, purpose string, pricing map[string]config.PricingEntry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		next:     next,
		recorder: recorder,
		purpose:  purpose,
		pricing:  pricing,
		logger:   logger.With("component", "usage"),
		now:      time.Now,
	}
}

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, model string, messages []llm.Message, defs []map[string]any) (*llm.ChatResponse, error) {
	resp, err := c.next.Chat(ctx, model, messages, defs)
	if err != nil || resp == nil {
		return resp, err
	}

	used := resp.Model
	if used == "" {
		used = model
	}
	rec := Record{
		Timestamp:    c.now(),
		SessionID:    tools.SessionIDFromContext(ctx),
		Model:        used,
		Purpose:      c.purpose,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      ComputeCost(used, resp.InputTokens, resp.OutputTokens, c.pricing),
	}
	if rerr := c.recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		c.logger.Warn("usage record failed", "model", used, "error", rerr)
	}
	return resp, nil
}

// Ping implements llm.Client.
func (c *Client) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}
