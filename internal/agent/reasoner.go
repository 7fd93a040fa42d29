package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/noah-ai-agent/internal/history"
	"github.com/nugget/noah-ai-agent/internal/llm"
	"github.com/nugget/noah-ai-agent/internal/prompts"
	"github.com/nugget/noah-ai-agent/internal/tools"
)

// ErrMalformedToolCall is returned when the model emits a tool call
// without a name.
var ErrMalformedToolCall = errors.New("malformed tool call")

// ReasonInput is everything a Reasoner may look at.
type ReasonInput struct {
	History []history.Message
	Input   string
	Tools   []tools.Spec

	// Prior holds the tool rounds already run in this turn. It is empty
	// on the first REASON of a turn.
	Prior []ToolExchange
}

// Reasoner decides how a turn proceeds. It returns exactly one variant of
// ReasoningOutput, or an error when the model could not be consulted.
type Reasoner interface {
	Reason(ctx context.Context, in ReasonInput) (ReasoningOutput, error)
}

// ModelReasonerConfig configures a ModelReasoner.
type ModelReasonerConfig struct {
	Client llm.Client
	Model  string

	// Timeout bounds each model call. Zero means no extra bound.
	Timeout time.Duration

	Logger *slog.Logger
}

// ModelReasoner asks a language model what to do next.
type ModelReasoner struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewModelReasoner creates a reasoner backed by cfg.Client.
func NewModelReasoner(cfg ModelReasonerConfig) *ModelReasoner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ModelReasoner{
		client:  cfg.Client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "reasoner"),
		now:     time.Now,
	}
}

// Reason implements Reasoner. The model alone decides the route; a draft
// is only produced when it calls the draft control tool.
func (r *ModelReasoner) Reason(ctx context.Context, in ReasonInput) (ReasoningOutput, error) {
	messages := r.buildMessages(in)
	defs := append(tools.Definitions(in.Tools), draftToolDefinition())

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.client.Chat(ctx, r.model, messages, defs)
	if err != nil {
		return ReasoningOutput{}, fmt.Errorf("model call: %w", err)
	}
	if resp == nil {
		return ReasoningOutput{}, errors.New("model call: empty response")
	}

	out, deferred, err := route(resp.Message)
	if err != nil {
		return ReasoningOutput{}, err
	}
	if deferred != "" {
		r.logger.Info("draft request deferred until tool results return",
			"draft", deferred,
			"tool_calls", len(out.Calls),
		)
	}
	r.logger.Debug("reasoning complete",
		"model", r.model,
		"kind", out.Kind,
		"tool_calls", len(out.Calls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return out, nil
}

// buildMessages renders the system prompt, prior history, the live input
// and this turn's tool rounds into provider messages.
func (r *ModelReasoner) buildMessages(in ReasonInput) []llm.Message {
	names := make([]string, 0, len(in.Tools))
	for _, s := range in.Tools {
		names = append(names, s.Name)
	}

	msgs := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: prompts.ReasonerSystem(names, r.now().Format("Monday, January 2, 2006 15:04 MST")),
	}}

	for _, m := range in.History {
		switch m.Actor {
		case history.ActorUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case history.ActorAgent:
			if len(m.ToolCalls) > 0 {
				msgs = appendExchange(msgs, "", m.ToolCalls, m.ToolResponses)
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Input})

	for _, ex := range in.Prior {
		msgs = appendExchange(msgs, ex.Text, ex.Calls, ex.Responses)
	}
	return msgs
}

// appendExchange adds an assistant tool-call message followed by one tool
// message per response.
func appendExchange(msgs []llm.Message, text string, calls []history.ToolCall, responses []history.ToolResponse) []llm.Message {
	wire := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		wire[i] = llm.ToolCall{
			ID:       c.ID,
			Function: llm.FunctionCall{Name: c.Name, Arguments: c.Args},
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: wire})

	for _, resp := range responses {
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Content:    resp.ContentString(),
			ToolCallID: resp.ToolCallID,
			Name:       resp.Name,
		})
	}
	return msgs
}

// route turns a model message into a ReasoningOutput. Tool calls take
// precedence over text. A lone call to the draft control tool becomes a
// DraftIntent; when it arrives alongside other tool calls those run first
// and the draft kind is returned as deferred so the model can ask again
// once it has their results.
func route(msg llm.Message) (out ReasoningOutput, deferred DraftKind, err error) {
	text := strings.TrimSpace(msg.Content)
	if len(msg.ToolCalls) == 0 {
		return DirectAnswer(text), "", nil
	}

	var draft DraftKind
	calls := make([]history.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			return ReasoningOutput{}, "", fmt.Errorf("%w: missing name", ErrMalformedToolCall)
		}
		if name == prompts.DraftToolName {
			draft = DraftKind(fmt.Sprint(tc.Function.Arguments["kind"]))
			if !draft.Valid() {
				draft = DraftNote
			}
			continue
		}

		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, history.ToolCall{ID: id, Name: name, Args: args})
	}

	if len(calls) == 0 {
		return DraftIntent(draft), "", nil
	}
	return ToolRequest(text, calls), draft, nil
}

func draftToolDefinition() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name": prompts.DraftToolName,
			"description": "Request a structured draft built only from this session's conversation. " +
				"Use kind 'note' for a nursing or SOAP note and 'handoff' for a shift handoff report.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"kind": map[string]any{
						"type": "string",
						"enum": []string{string(DraftNote), string(DraftHandoff)},
					},
				},
				"required": []string{"kind"},
			},
		},
	}
}
