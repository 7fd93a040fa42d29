package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/nugget/noah-ai-agent/internal/history"
)

// Messages placed in error responses.
const (
	MsgToolNotFound     = "tool not found"
	msgInvalidArguments = "invalid arguments: "
)

// DefaultTimeout bounds a single tool call when none is configured.
const DefaultTimeout = 30 * time.Second

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Timeout bounds each call independently.
	Timeout time.Duration

	// MaxParallel is the number of calls of one batch run concurrently.
	// Values below 2 run the batch sequentially.
	MaxParallel int

	Logger *slog.Logger
}

// Executor runs batches of tool calls against a Registry. Every call gets
// exactly one response, in input order; a failing call never affects its
// siblings.
type Executor struct {
	reg         *Registry
	timeout     time.Duration
	maxParallel int
	logger      *slog.Logger
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		reg:         reg,
		timeout:     cfg.Timeout,
		maxParallel: cfg.MaxParallel,
		logger:      cfg.Logger.With("component", "tools"),
	}
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry { return e.reg }

// Execute runs calls and returns one response per call in the same order.
func (e *Executor) Execute(ctx context.Context, calls []history.ToolCall) []history.ToolResponse {
	if len(calls) == 0 {
		return nil
	}

	if e.maxParallel < 2 || len(calls) == 1 {
		out := make([]history.ToolResponse, len(calls))
		for i, c := range calls {
			out[i] = e.executeOne(ctx, c)
		}
		return out
	}

	mapper := iter.Mapper[history.ToolCall, history.ToolResponse]{MaxGoroutines: e.maxParallel}
	return mapper.Map(calls, func(c *history.ToolCall) history.ToolResponse {
		return e.executeOne(ctx, *c)
	})
}

type callResult struct {
	value any
	err   error
}

func (e *Executor) executeOne(ctx context.Context, call history.ToolCall) history.ToolResponse {
	resp := history.ToolResponse{ToolCallID: call.ID, Name: call.Name}
	log := e.logger.With("tool", call.Name, "tool_call_id", call.ID)

	t := e.reg.Get(call.Name)
	if t == nil {
		log.Warn("tool call for unregistered tool", "error", &ErrToolUnavailable{ToolName: call.Name})
		resp.Content = history.ErrorContent(MsgToolNotFound)
		return resp
	}

	if err := e.reg.validateArgs(call.Name, call.Args); err != nil {
		log.Warn("tool arguments rejected", "error", err)
		resp.Content = history.ErrorContent(msgInvalidArguments + err.Error())
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		v, err := t.Handler(ctx, cloneArgs(call.Args))
		done <- callResult{value: v, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("tool timed out after %s", e.timeout)
		}
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	if res.err != nil {
		log.Warn("tool call failed", "error", res.err, "elapsed", elapsed)
		resp.Content = history.ErrorContent(res.err.Error())
		return resp
	}

	if res.value == nil {
		res.value = ""
	}
	resp.Content = res.value
	log.Debug("tool call completed", "elapsed", elapsed)
	return resp
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
