package llm

import (
	"errors"
	"fmt"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Default generation parameters.
const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.7
)

// ErrInvalidRequest is returned when generation parameters are out of
// range. Nothing is sent upstream.
var ErrInvalidRequest = errors.New("llm: invalid request")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the tunable generation parameters.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// DefaultParams returns the parameters used when the caller has no
// preference.
func DefaultParams() Params {
	return Params{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}
}

// Request is the body of one chat-completion call. It is built fresh by
// [NewRequest] for every call and not modified afterwards.
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// NewRequest builds a request for prompt. An empty system prompt adds
// no system message. MaxTokens must be positive and Temperature within
// [0,1]; otherwise the error wraps [ErrInvalidRequest].
func NewRequest(prompt, system string, p Params, stream bool) (Request, error) {
	if p.MaxTokens <= 0 {
		return Request{}, fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidRequest, p.MaxTokens)
	}
	if p.Temperature < 0 || p.Temperature > 1 {
		return Request{}, fmt.Errorf("%w: temperature must be within [0,1], got %g", ErrInvalidRequest, p.Temperature)
	}

	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	return Request{
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      stream,
	}, nil
}

// wireRequest adds the optional model name. llama.cpp serves a single
// model and ignores it.
type wireRequest struct {
	Model string `json:"model,omitempty"`
	Request
}

// chatCompletion is the non-streaming response envelope. Pointers
// distinguish absent fields from empty ones.
type chatCompletion struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chatChunk is one streamed event envelope.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Role    string  `json:"role,omitempty"`
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}
