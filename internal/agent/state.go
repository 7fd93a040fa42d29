// Package agent implements the turn orchestrator: the state machine that
// takes one nurse message through reasoning, tool execution or drafting,
// and finalization, then persists the turn.
package agent

import (
	"github.com/nugget/noah-ai-agent/internal/history"
)

// State is a node of the turn state machine.
type State string

const (
	StateLoadHistory State = "load_history"
	StateReason      State = "reason"
	StateExecuteTool State = "execute_tool"
	StateDraft       State = "draft"
	StateFinalize    State = "finalize"
	StatePersist     State = "persist"
	StateEnd         State = "end"
)

// Kind tags the variant held by a ReasoningOutput.
type Kind int

const (
	KindDirectAnswer Kind = iota + 1
	KindToolRequest
	KindDraftIntent
)

func (k Kind) String() string {
	switch k {
	case KindDirectAnswer:
		return "direct_answer"
	case KindToolRequest:
		return "tool_request"
	case KindDraftIntent:
		return "draft_intent"
	default:
		return "unknown"
	}
}

// DraftKind selects the drafting template.
type DraftKind string

const (
	DraftNote    DraftKind = "note"
	DraftHandoff DraftKind = "handoff"
)

// Valid reports whether k is a known draft kind.
func (k DraftKind) Valid() bool {
	return k == DraftNote || k == DraftHandoff
}

// ReasoningOutput is the result of one Reasoner step. Exactly one variant
// is populated, selected by Kind; build values with DirectAnswer,
// ToolRequest or DraftIntent.
type ReasoningOutput struct {
	Kind Kind

	// Text is the answer for KindDirectAnswer. For KindToolRequest it is
	// whatever the model said alongside its calls.
	Text string

	// Calls is set for KindToolRequest.
	Calls []history.ToolCall

	// Draft is set for KindDraftIntent.
	Draft DraftKind
}

// DirectAnswer returns a plain text answer.
func DirectAnswer(text string) ReasoningOutput {
	return ReasoningOutput{Kind: KindDirectAnswer, Text: text}
}

// ToolRequest returns a request to run calls. preamble is optional text
// the model produced with the calls.
func ToolRequest(preamble string, calls []history.ToolCall) ReasoningOutput {
	return ReasoningOutput{Kind: KindToolRequest, Text: preamble, Calls: calls}
}

// DraftIntent returns a request to produce a structured draft.
func DraftIntent(kind DraftKind) ReasoningOutput {
	return ReasoningOutput{Kind: KindDraftIntent, Draft: kind}
}

// ToolExchange is one round of tool calls made during the current turn
// together with the responses they produced.
type ToolExchange struct {
	Text      string
	Calls     []history.ToolCall
	Responses []history.ToolResponse
}

// TurnState is threaded through the state machine for a single turn and
// discarded when the turn returns. Only the orchestrator mutates it.
type TurnState struct {
	SessionID string
	UserID    string
	PatientID string
	Input     string

	// History is loaded once at LOAD_HISTORY, oldest first.
	History []history.Message

	// Output is the most recent reasoning result.
	Output ReasoningOutput

	// Exchanges records every tool round of this turn, in order. The
	// newest entry holds the results the Reasoner has not seen yet; each
	// REASON receives all of them after the live input.
	Exchanges []ToolExchange

	// Calls and Responses accumulate everything persisted on the AGENT
	// record.
	Calls     []history.ToolCall
	Responses []history.ToolResponse

	// Iterations counts completed EXECUTE_TOOL steps.
	Iterations int

	// Drafted is the kind of draft produced, if any.
	Drafted DraftKind

	// Error is a diagnostic for a failure that was recovered locally.
	Error string
	err   error

	// Fatal is set when the turn cannot complete (loop bound exceeded).
	Fatal error

	// Path lists the states visited, in order.
	Path []State

	FinalText string
	finalized bool
}

// recordError notes a recovered failure. The first error wins.
func (ts *TurnState) recordError(err error) {
	if err == nil || ts.err != nil {
		return
	}
	ts.err = err
	ts.Error = err.Error()
}

// setFinal sets FinalText. Only the first call has any effect.
func (ts *TurnState) setFinal(text string) {
	if ts.finalized {
		return
	}
	ts.FinalText = text
	ts.finalized = true
}

// Finalized reports whether FinalText has been set.
func (ts *TurnState) Finalized() bool { return ts.finalized }
