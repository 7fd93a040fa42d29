package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/noah-ai-agent/internal/history"
	"github.com/nugget/noah-ai-agent/internal/prompts"
	"github.com/nugget/noah-ai-agent/internal/tools"
)

// Defaults applied by NewOrchestrator.
const (
	DefaultMaxIterations  = 8
	DefaultPersistTimeout = 10 * time.Second
)

// ErrInvalidRequest is returned by RunTurn for requests it cannot start.
var ErrInvalidRequest = errors.New("invalid turn request")

// Status summarizes how a turn ended.
type Status string

const (
	// StatusCompleted means the turn produced its answer normally.
	StatusCompleted Status = "completed"

	// StatusDegraded means a component failed and the nurse received a
	// safe fallback text.
	StatusDegraded Status = "degraded"

	// StatusFailed means the turn could not complete.
	StatusFailed Status = "failed"
)

// TurnRequest is one incoming nurse message.
type TurnRequest struct {
	SessionID string
	UserID    string
	Input     string

	// PatientID is the patient in focus, if any. Tools and the drafter
	// use it as their default patient.
	PatientID string
}

// TurnResult is what RunTurn returns to the caller.
type TurnResult struct {
	FinalText     string             `json:"final_text"`
	SessionID     string             `json:"session_id"`
	UserRecordID  string             `json:"user_record_id,omitempty"`
	AgentRecordID string             `json:"agent_record_id,omitempty"`
	Status        Status             `json:"status"`
	Err           error              `json:"-"`
	ToolCalls     []history.ToolCall `json:"tool_calls,omitempty"`
	Iterations    int                `json:"iterations"`
	Draft         DraftKind          `json:"draft,omitempty"`
	Path          []State            `json:"path"`
	Duration      time.Duration      `json:"duration"`
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	History  history.Store
	Reasoner Reasoner
	Executor *tools.Executor
	Drafter  Drafter

	// HistoryLimit is the number of prior messages loaded per turn.
	HistoryLimit int

	// MaxIterations bounds tool rounds per turn.
	MaxIterations int

	// PersistTimeout bounds the PERSIST writes. They run even when the
	// caller's context has been cancelled.
	PersistTimeout time.Duration

	// Observer, when set, is called once per finished turn.
	Observer func(ctx context.Context, res *TurnResult)

	Logger *slog.Logger
}

// Orchestrator runs turns. It holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	history        history.Store
	reasoner       Reasoner
	executor       *tools.Executor
	drafter        Drafter
	historyLimit   int
	maxIterations  int
	persistTimeout time.Duration
	observer       func(context.Context, *TurnResult)
	logger         *slog.Logger
}

// NewOrchestrator validates cfg and returns an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.History == nil:
		return nil, errors.New("agent: history store is required")
	case cfg.Reasoner == nil:
		return nil, errors.New("agent: reasoner is required")
	case cfg.Executor == nil:
		return nil, errors.New("agent: tool executor is required")
	case cfg.Drafter == nil:
		return nil, errors.New("agent: drafter is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultLoadLimit
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		history:        cfg.History,
		reasoner:       cfg.Reasoner,
		executor:       cfg.Executor,
		drafter:        cfg.Drafter,
		historyLimit:   cfg.HistoryLimit,
		maxIterations:  cfg.MaxIterations,
		persistTimeout: cfg.PersistTimeout,
		observer:       cfg.Observer,
		logger:         cfg.Logger.With("component", "orchestrator"),
	}, nil
}

// RunTurn takes one nurse message through the state machine and returns
// the final text. Component failures are absorbed into the result; the
// returned error is non-nil only for invalid requests and for a history
// store that cannot be read.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Input) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}

	start := time.Now()
	ts := &TurnState{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		PatientID: req.PatientID,
		Input:     req.Input,
	}
	res := &TurnResult{SessionID: req.SessionID}
	log := o.logger.With("session_id", req.SessionID)
	ctx = tools.WithTurn(ctx, req.SessionID, req.UserID, req.PatientID)

	reg := o.executor.Registry()
	state := StateLoadHistory
	for state != StateEnd {
		ts.Path = append(ts.Path, state)
		log.Debug("turn state", "state", state, "iteration", ts.Iterations)

		switch state {
		case StateLoadHistory:
			msgs, err := o.history.Load(ctx, req.SessionID, o.historyLimit)
			if err != nil {
				log.Error("history load failed", "error", err)
				return nil, fmt.Errorf("load history: %w", err)
			}
			ts.History = msgs
		case StateReason:
			o.reason(ctx, log, ts)
		case StateExecuteTool:
			o.executeTools(ctx, ts)
		case StateDraft:
			o.draft(ctx, log, ts)
		case StateFinalize:
			ts.setFinal(Finalize(ts.Output, ts.Error))
		case StatePersist:
			o.persist(ctx, log, ts, res)
		}

		next, err := transition(state, ts, reg, o.maxIterations)
		switch {
		case errors.Is(err, ErrIterationLimit):
			log.Warn("tool loop bound reached", "iterations", ts.Iterations, "max", o.maxIterations)
			ts.Fatal = err
			ts.recordError(err)
			ts.Output = DirectAnswer(prompts.IterationLimitText)
		case err != nil:
			return nil, err
		case state == StateReason && next == StateFinalize && ts.Output.Kind == KindToolRequest:
			log.Info("model requested unregistered tools", "tools", callNames(ts.Output.Calls))
		}
		state = next
	}
	ts.Path = append(ts.Path, StateEnd)

	res.FinalText = ts.FinalText
	res.ToolCalls = ts.Calls
	res.Iterations = ts.Iterations
	res.Draft = ts.Drafted
	res.Path = ts.Path
	res.Duration = time.Since(start)
	switch {
	case ts.Fatal != nil:
		res.Status = StatusFailed
		res.Err = ts.Fatal
	case ts.err != nil:
		res.Status = StatusDegraded
		res.Err = ts.err
	default:
		res.Status = StatusCompleted
	}

	log.Info("turn complete",
		"status", res.Status,
		"iterations", res.Iterations,
		"tool_calls", len(res.ToolCalls),
		"elapsed", res.Duration.Round(time.Millisecond),
	)

	if o.observer != nil {
		o.observer(ctx, res)
	}
	return res, nil
}

func (o *Orchestrator) reason(ctx context.Context, log *slog.Logger, ts *TurnState) {
	in := ReasonInput{
		History: ts.History,
		Input:   ts.Input,
		Tools:   o.executor.Registry().Specs(),
		Prior:   ts.Exchanges,
	}

	out, err := o.reasoner.Reason(ctx, in)
	if err != nil {
		log.Error("reasoning failed", "error", err, "iteration", ts.Iterations)
		ts.recordError(err)
		out = DirectAnswer(prompts.SafeErrorText)
	}
	ts.Output = out
}

func (o *Orchestrator) executeTools(ctx context.Context, ts *TurnState) {
	calls := ts.Output.Calls
	responses := o.executor.Execute(ctx, calls)

	ts.Iterations++
	ts.Calls = append(ts.Calls, calls...)
	ts.Responses = append(ts.Responses, responses...)
	ts.Exchanges = append(ts.Exchanges, ToolExchange{
		Text:      ts.Output.Text,
		Calls:     calls,
		Responses: responses,
	})
}

func (o *Orchestrator) draft(ctx context.Context, log *slog.Logger, ts *TurnState) {
	kind := ts.Output.Draft
	text, err := o.drafter.Draft(ctx, DraftRequest{
		Kind:      kind,
		History:   ts.History,
		Request:   ts.Input,
		PatientID: ts.PatientID,
	})
	if err != nil {
		log.Error("drafting failed", "kind", kind, "error", err)
		ts.recordError(err)
		ts.Output = DirectAnswer(prompts.SafeErrorText)
		return
	}
	ts.Drafted = kind
	ts.Output = DirectAnswer(text)
}

// persist writes the USER record and then the AGENT record. Failures are
// logged and leave the corresponding record id empty.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, ts *TurnState, res *TurnResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	user, err := o.history.Save(ctx, history.Message{
		SessionID: ts.SessionID,
		UserID:    ts.UserID,
		Actor:     history.ActorUser,
		Content:   ts.Input,
	})
	if err != nil {
		log.Error("failed to persist user message", "error", err)
	} else {
		res.UserRecordID = user.ID
	}

	agentMsg, err := o.history.Save(ctx, history.Message{
		SessionID:     ts.SessionID,
		UserID:        ts.UserID,
		Actor:         history.ActorAgent,
		Content:       ts.FinalText,
		ToolCalls:     ts.Calls,
		ToolResponses: ts.Responses,
		IsError:       ts.err != nil,
	})
	if err != nil {
		log.Error("failed to persist agent message", "error", err)
		return
	}
	res.AgentRecordID = agentMsg.ID
}

func callNames(calls []history.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
