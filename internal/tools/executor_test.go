package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nugget/noah-ai-agent/internal/history"
)

// Call kinds used to build test batches.
const (
	kindOK = iota
	kindUnknown
	kindInvalidArgs
	kindHandlerError
	kindPanic
	kindCount
)

func newTestRegistry(t testing.TB) *Registry {
	t.Helper()
	reg := NewRegistry()
	must := func(tool *Tool) {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register %s: %v", tool.Name, err)
		}
	}
	must(echoTool("echo"))
	must(&Tool{
		Name:    "fail",
		Handler: func(context.Context, map[string]any) (any, error) { return nil, errors.New("backend exploded") },
	})
	must(&Tool{
		Name:    "panic",
		Handler: func(context.Context, map[string]any) (any, error) { panic("nil map write") },
	})
	must(&Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-time.After(5 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	must(&Tool{
		Name: "stubborn",
		Handler: func(context.Context, map[string]any) (any, error) {
			time.Sleep(200 * time.Millisecond)
			return "ignored my deadline", nil
		},
	})
	return reg
}

func callFor(kind, i int) history.ToolCall {
	id := fmt.Sprintf("call_%d", i)
	switch kind {
	case kindUnknown:
		return history.ToolCall{ID: id, Name: "order_labs", Args: map[string]any{}}
	case kindInvalidArgs:
		return history.ToolCall{ID: id, Name: "echo", Args: map[string]any{"text": 7}}
	case kindHandlerError:
		return history.ToolCall{ID: id, Name: "fail"}
	case kindPanic:
		return history.ToolCall{ID: id, Name: "panic"}
	default:
		return history.ToolCall{ID: id, Name: "echo", Args: map[string]any{"text": id}}
	}
}

func errorText(r history.ToolResponse) string {
	m, ok := r.Content.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["error"].(string)
	return s
}

func TestExecutor_OneResponsePerCallInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	reg := newTestRegistry(t)
	sequential := NewExecutor(reg, ExecutorConfig{Timeout: time.Second})
	parallel := NewExecutor(reg, ExecutorConfig{Timeout: time.Second, MaxParallel: 4})

	properties.Property("responses match calls one to one", prop.ForAll(
		func(kinds []int, useParallel bool) bool {
			calls := make([]history.ToolCall, len(kinds))
			for i, k := range kinds {
				calls[i] = callFor(k, i)
			}

			exec := sequential
			if useParallel {
				exec = parallel
			}
			responses := exec.Execute(context.Background(), calls)

			if len(responses) != len(calls) {
				return false
			}
			for i, r := range responses {
				if r.ToolCallID != calls[i].ID || r.Name != calls[i].Name {
					return false
				}
				if (kinds[i] == kindOK) == r.IsError() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, kindCount-1)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestExecutor_ErrorPayloads(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t), ExecutorConfig{Timeout: 50 * time.Millisecond})

	tests := []struct {
		name       string
		call       history.ToolCall
		wantPrefix string
	}{
		{"unknown tool", history.ToolCall{ID: "1", Name: "order_labs"}, MsgToolNotFound},
		{"invalid arguments", history.ToolCall{ID: "2", Name: "echo", Args: map[string]any{}}, "invalid arguments: "},
		{"handler error", history.ToolCall{ID: "3", Name: "fail"}, "backend exploded"},
		{"panic", history.ToolCall{ID: "4", Name: "panic"}, "tool panicked: nil map write"},
		{"timeout honored", history.ToolCall{ID: "5", Name: "slow"}, "tool timed out"},
		{"timeout ignored by handler", history.ToolCall{ID: "6", Name: "stubborn"}, "tool timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exec.Execute(context.Background(), []history.ToolCall{tt.call})
			if len(got) != 1 {
				t.Fatalf("got %d responses", len(got))
			}
			if msg := errorText(got[0]); !strings.HasPrefix(msg, tt.wantPrefix) {
				t.Errorf("error = %q, want prefix %q", msg, tt.wantPrefix)
			}
		})
	}
}

func TestExecutor_FailureDoesNotAbortSiblings(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t), ExecutorConfig{Timeout: time.Second})

	got := exec.Execute(context.Background(), []history.ToolCall{
		{ID: "a", Name: "panic"},
		{ID: "b", Name: "echo", Args: map[string]any{"text": "still here"}},
		{ID: "c", Name: "order_labs"},
	})
	if len(got) != 3 {
		t.Fatalf("got %d responses", len(got))
	}
	if got[1].Content != "still here" {
		t.Errorf("sibling content = %v", got[1].Content)
	}
	if !got[0].IsError() || !got[2].IsError() {
		t.Errorf("failing calls should carry error payloads: %+v", got)
	}
}

func TestExecutor_ParallelRunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := NewRegistry()
	if err := reg.Register(&Tool{
		Name: "wait",
		Handler: func(context.Context, map[string]any) (any, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return "done", nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	calls := make([]history.ToolCall, 6)
	for i := range calls {
		calls[i] = history.ToolCall{ID: fmt.Sprint(i), Name: "wait"}
	}

	got := NewExecutor(reg, ExecutorConfig{MaxParallel: 3}).Execute(context.Background(), calls)
	for i, r := range got {
		if r.ToolCallID != fmt.Sprint(i) {
			t.Errorf("order not preserved at %d: %s", i, r.ToolCallID)
		}
	}
	if p := peak.Load(); p < 2 || p > 3 {
		t.Errorf("peak concurrency = %d, want 2..3", p)
	}
}

func TestExecutor_EmptyBatch(t *testing.T) {
	exec := NewExecutor(NewRegistry(), ExecutorConfig{})
	if got := exec.Execute(context.Background(), nil); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestExecutor_PassesTurnContext(t *testing.T) {
	reg := NewRegistry()
	var seen string
	if err := reg.Register(&Tool{
		Name: "whoami",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			seen = SessionIDFromContext(ctx)
			return nil, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	ctx := WithTurn(context.Background(), "sess-42", "nurse-1", "")
	got := NewExecutor(reg, ExecutorConfig{}).Execute(ctx, []history.ToolCall{{ID: "1", Name: "whoami"}})
	if seen != "sess-42" {
		t.Errorf("handler saw session %q", seen)
	}
	if got[0].Content != "" {
		t.Errorf("nil result should become empty text, got %#v", got[0].Content)
	}
}
