package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient throttles requests to an underlying Client with a
// token bucket. Callers block until a slot is free or their context ends,
// so a saturated provider surfaces as a timeout on that call only.
type RateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps next with a limit of requestsPerMinute and
// a burst of the same size. A non-positive limit returns next unchanged.
func NewRateLimitedClient(next Client, requestsPerMinute int) Client {
	if requestsPerMinute <= 0 {
		return next
	}
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
	}
}

// Chat waits for capacity, then delegates.
func (c *RateLimitedClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.next.Chat(ctx, model, messages, tools)
}

// Ping is not rate limited.
func (c *RateLimitedClient) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}
