// Package prompts contains the system prompts Jarvis sends to the
// language model and the composer that picks between them.
//
// Prompt text is Go code rather than config files because it is program
// logic: the templates are substituted with fmt.Sprintf, compiled into
// the binary, and validated by tests.
//
// Convention: each prompt gets an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
// [Compose] is the only entry point the turn orchestrator uses.
package prompts
