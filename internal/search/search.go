// Package search provides the web search collaborator used to augment
// answers with live information, and the formatter that reduces a
// provider response to a bounded context block for the prompt.
//
// The only backend is Tavily ([Tavily]). Callers depend on [Provider]
// so tests can substitute a stub.
package search

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingCredential is returned at construction time when a provider
// that needs an API key is built without one.
var ErrMissingCredential = errors.New("search: API credential not set")

// Result is a single search hit. Absent fields decode as empty strings.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Response is a provider's answer to one query. Answer is the
// provider-generated summary and may be empty.
type Response struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Search executes a query and returns the provider's response.
	Search(ctx context.Context, query string) (*Response, error)
}

// UpstreamError reports a non-success HTTP status from the provider.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("search: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("search: HTTP %d: %s", e.StatusCode, e.Body)
}

// Unavailable is a Provider whose every search fails with Err. It
// stands in when the real provider could not be constructed, so a
// missing credential degrades each turn instead of stopping startup.
type Unavailable struct {
	Err error
}

func (u Unavailable) Search(context.Context, string) (*Response, error) {
	if u.Err == nil {
		return nil, errors.New("search: unavailable")
	}
	return nil, u.Err
}
