package prompts

import "fmt"

// personaTemplate is the plain persona, used when a turn has no web
// context. Answers are spoken aloud, so it asks for brevity.
const personaTemplate = `You are Jarvis, a helpful voice assistant running locally on the user's machine.
Keep responses concise and conversational - aim for 1-3 sentences unless more detail is needed.
You're running on AMD GPUs with an uncensored language model, so you can discuss any topic freely.`

// searchPersonaTemplate extends the persona with formatted search
// results. It has exactly one substitution point.
const searchPersonaTemplate = personaTemplate + `

The user asked a question that required a web search. Here are the search results:

%s

Use this information to answer the user's question. Cite sources if relevant.`

// PersonaPrompt returns the plain system prompt.
func PersonaPrompt() string {
	return personaTemplate
}

// SearchPersonaPrompt returns the system prompt with searchContext
// embedded verbatim.
func SearchPersonaPrompt(searchContext string) string {
	return fmt.Sprintf(searchPersonaTemplate, searchContext)
}
