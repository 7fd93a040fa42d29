package llm

import "context"

// Client is a chat model backend. The reasoner calls it with the
// registry's tool definitions; the drafter calls it with none.
type Client interface {
	// Chat runs one completion. A nil tools slice means the model must
	// answer in text. Tool calls in the reply are returned on
	// ChatResponse.Message.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping reports whether the backend is reachable. It backs the
	// "models" health check.
	Ping(ctx context.Context) error
}

var (
	_ Client = (*OllamaClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*Router)(nil)
	_ Client = (*RateLimitedClient)(nil)
)
