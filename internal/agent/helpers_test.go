package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nugget/noah-ai-agent/internal/history"
	"github.com/nugget/noah-ai-agent/internal/knowledge"
	"github.com/nugget/noah-ai-agent/internal/llm"
	"github.com/nugget/noah-ai-agent/internal/tools"
)

// mockLLM replays canned responses and records every call.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	callIndex int
	calls     []mockLLMCall
}

type mockLLMCall struct {
	Model    string
	Messages []llm.Message
	Tools    []map[string]any
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, td []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, mockLLMCall{Model: model, Messages: msgs, Tools: td})
	i := m.callIndex
	m.callIndex++

	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", i)
	}
	return m.responses[i], nil
}

func (m *mockLLM) Ping(_ context.Context) error { return nil }

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "test-model",
		Message: llm.Message{Role: llm.RoleAssistant, Content: text},
	}
}

func toolResponse(text string, calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "test-model",
		Message: llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls},
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// fakeRetriever returns fixed passages.
type fakeRetriever struct {
	passages []knowledge.Passage
	queries  []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ int) ([]knowledge.Passage, error) {
	f.queries = append(f.queries, query)
	return f.passages, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testRig struct {
	store     *history.MemoryStore
	retriever *fakeRetriever
	llm       *mockLLM
	orch      *Orchestrator
	observed  []*TurnResult
}

// newRig wires an orchestrator around mock with the retrieval tool
// registered. reasoner overrides the model reasoner when non-nil.
func newRig(t *testing.T, mock *mockLLM, reasoner Reasoner, maxIter int) *testRig {
	t.Helper()
	rig := &testRig{
		store: history.NewMemoryStore(),
		retriever: &fakeRetriever{passages: []knowledge.Passage{
			{Text: "Hypoglycemia presents with diaphoresis, tremor and confusion.", Source: "endocrine.md", Score: 0.88},
			{Text: "Treat glucose below 70 mg/dL with 15 g fast-acting carbohydrate.", Source: "endocrine.md", Score: 0.71},
		}},
		llm: mock,
	}

	reg := tools.NewRegistry()
	if err := reg.Register(tools.NewKnowledgeBaseTool(rig.retriever, 3)); err != nil {
		t.Fatal(err)
	}
	exec := tools.NewExecutor(reg, tools.ExecutorConfig{Timeout: time.Second, Logger: quietLogger()})

	if reasoner == nil {
		reasoner = NewModelReasoner(ModelReasonerConfig{
			Client: mock,
			Model:  "test-model",
			Logger: quietLogger(),
		})
	}

	orch, err := NewOrchestrator(Config{
		History:       rig.store,
		Reasoner:      reasoner,
		Executor:      exec,
		Drafter:       NewModelDrafter(ModelDrafterConfig{Client: mock, Model: "test-model", Logger: quietLogger()}),
		MaxIterations: maxIter,
		Observer: func(_ context.Context, res *TurnResult) {
			rig.observed = append(rig.observed, res)
		},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rig.orch = orch
	return rig
}

func (r *testRig) messages(t *testing.T, sessionID string) []history.Message {
	t.Helper()
	msgs, err := r.store.Load(context.Background(), sessionID, 100)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func hasState(path []State, s State) bool {
	for _, p := range path {
		if p == s {
			return true
		}
	}
	return false
}
