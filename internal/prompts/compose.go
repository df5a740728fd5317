package prompts

import "strings"

// PromptSpec fully determines one generation request.
type PromptSpec struct {
	System string
	User   string

	// Augmented reports whether System carries search context.
	Augmented bool
}

// Compose builds the prompt pair for a turn. An empty or
// whitespace-only searchContext selects the plain persona; otherwise
// the search persona is used with the context substituted verbatim.
// The user message is always the utterance, unmodified.
func Compose(utterance, searchContext string) PromptSpec {
	if strings.TrimSpace(searchContext) == "" {
		return PromptSpec{System: PersonaPrompt(), User: utterance}
	}
	return PromptSpec{
		System:    SearchPersonaPrompt(searchContext),
		User:      utterance,
		Augmented: true,
	}
}
