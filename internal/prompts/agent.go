package prompts

// RephraseFallback is the user-facing text returned when a turn ends
// without any usable model output.
const RephraseFallback = "I'm not sure how to respond to that. Could you try rephrasing?"

// SafeErrorText replaces a failed model call. The underlying error is
// logged and recorded on the turn, never shown to the nurse.
const SafeErrorText = "I'm sorry, I ran into a problem while processing your request. Please try again in a moment."

// IterationLimitText is returned when the model keeps requesting tools
// past the configured loop bound.
const IterationLimitText = "I'm sorry, I was unable to complete your request. Please try rephrasing or narrowing the question."
