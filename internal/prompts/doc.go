// Package prompts contains the LLM prompt templates used internally by
// the turn pipeline.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests. The conditional
// splicing in the rewrite prompt is correctness-critical: get it wrong
// and the model either re-asks the same clarification forever or silently
// answers a different question than the one the user is answering.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated prompt string.
package prompts
