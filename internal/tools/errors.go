package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not in
// the registry. The executor turns it into a "tool not found" response;
// the orchestrator treats a batch of only such calls as a routing miss.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolName)
}
