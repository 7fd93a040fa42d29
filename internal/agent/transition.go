package agent

import (
	"errors"
	"fmt"
)

// ErrIterationLimit is reported when the model keeps requesting tools
// beyond the configured number of rounds.
var ErrIterationLimit = errors.New("tool loop iteration limit exceeded")

// ToolLookup reports whether a tool name is registered.
type ToolLookup interface {
	Has(name string) bool
}

// transition returns the state that follows cur. It only inspects ts;
// all side effects belong to the node handlers in the orchestrator.
//
// A ToolRequest is routed to EXECUTE_TOOL when at least one of its calls
// names a registered tool. A request naming only unknown tools is a
// routing miss and goes to FINALIZE. Once maxIter tool rounds have run,
// a further registered ToolRequest yields ErrIterationLimit and FINALIZE.
func transition(cur State, ts *TurnState, reg ToolLookup, maxIter int) (State, error) {
	switch cur {
	case StateLoadHistory:
		return StateReason, nil

	case StateReason:
		switch ts.Output.Kind {
		case KindToolRequest:
			if !anyRegistered(ts.Output, reg) {
				return StateFinalize, nil
			}
			if maxIter > 0 && ts.Iterations >= maxIter {
				return StateFinalize, fmt.Errorf("%w (%d rounds)", ErrIterationLimit, ts.Iterations)
			}
			return StateExecuteTool, nil
		case KindDraftIntent:
			return StateDraft, nil
		default:
			return StateFinalize, nil
		}

	case StateExecuteTool:
		return StateReason, nil

	case StateDraft:
		return StateFinalize, nil

	case StateFinalize:
		return StatePersist, nil

	case StatePersist:
		return StateEnd, nil
	}

	return StateEnd, fmt.Errorf("no transition from state %q", cur)
}

func anyRegistered(out ReasoningOutput, reg ToolLookup) bool {
	if reg == nil {
		return false
	}
	for _, c := range out.Calls {
		if reg.Has(c.Name) {
			return true
		}
	}
	return false
}
