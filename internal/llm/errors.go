package llm

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped into errors caused by the client's own time
// bound, as opposed to the caller's context.
var ErrTimeout = errors.New("llm: timed out")

// ErrStreamClosed is returned by [Stream.Next] after the stream was
// abandoned with [Stream.Close].
var ErrStreamClosed = errors.New("llm: stream closed")

// UpstreamError reports a non-success HTTP status from the generation
// service.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: upstream HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: upstream HTTP %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError reports a response or stream event that does
// not match the chat-completion contract.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "llm: malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
