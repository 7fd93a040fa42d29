package agent

import (
	"strings"

	"github.com/nugget/noah-ai-agent/internal/prompts"
)

// Finalize picks the user-visible text for a turn. It never synthesizes
// from tool results; after a tool loop the last reasoning output already
// carries the grounded answer. The result is never empty.
func Finalize(out ReasoningOutput, errText string) string {
	switch out.Kind {
	case KindDirectAnswer, KindToolRequest:
		if text := strings.TrimSpace(out.Text); text != "" {
			return text
		}
	}
	if errText != "" {
		return prompts.SafeErrorText
	}
	return prompts.RephraseFallback
}
