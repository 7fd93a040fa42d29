// Package prompts contains the model prompt templates used by Noah.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, are compiled into the binary, and
// can be validated by tests. The drafting prompts in particular carry the
// data constraint that keeps generated notes limited to session data, and
// tests pin that wording.
//
// Convention: each prompt category gets its own file (persona.go,
// reasoner.go, drafting.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
