package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// Search depths accepted by Tavily. Advanced costs more API credits.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// TavilyOption configures a Tavily client.
type TavilyOption func(*Tavily)

// WithURL overrides the search endpoint.
func WithURL(u string) TavilyOption {
	return func(t *Tavily) {
		if u != "" {
			t.url = u
		}
	}
}

// WithHTTPClient replaces the client's own connection pool. The caller
// then owns closing it.
func WithHTTPClient(c *http.Client) TavilyOption {
	return func(t *Tavily) {
		t.httpClient = c
		t.ownsHTTP = false
	}
}

// WithTimeout bounds each search request.
func WithTimeout(d time.Duration) TavilyOption {
	return func(t *Tavily) { t.timeout = d }
}

// WithMaxResults sets how many results Tavily returns (1-10).
func WithMaxResults(n int) TavilyOption {
	return func(t *Tavily) {
		if n > 0 {
			t.maxResults = n
		}
	}
}

// WithDepth selects [DepthBasic] or [DepthAdvanced].
func WithDepth(depth string) TavilyOption {
	return func(t *Tavily) {
		if depth != "" {
			t.depth = depth
		}
	}
}

// WithIncludeAnswer controls whether Tavily generates a summary answer.
func WithIncludeAnswer(include bool) TavilyOption {
	return func(t *Tavily) { t.includeAnswer = include }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TavilyOption {
	return func(t *Tavily) { t.logger = l }
}

// Tavily implements [Provider] for the Tavily Search API.
type Tavily struct {
	apiKey        string
	url           string
	maxResults    int
	depth         string
	includeAnswer bool
	timeout       time.Duration
	httpClient    *http.Client
	ownsHTTP      bool
	logger        *slog.Logger
}

// NewTavily creates a Tavily provider. An empty apiKey fails here, not
// on the first search, with [ErrMissingCredential].
func NewTavily(apiKey string, opts ...TavilyOption) (*Tavily, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	t := &Tavily{
		apiKey:        apiKey,
		url:           DefaultTavilyURL,
		maxResults:    5,
		depth:         DepthBasic,
		includeAnswer: true,
		timeout:       30 * time.Second,
	}
	for _, o := range opts {
		o(t)
	}
	if t.httpClient == nil {
		t.httpClient = httpkit.NewClient(httpkit.WithTimeout(t.timeout))
		t.ownsHTTP = true
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "search", "provider", "tavily")
	return t, nil
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

// Search runs one query. Transport failures, non-2xx statuses
// ([UpstreamError]) and undecodable bodies are all returned as errors;
// nothing is retried.
func (t *Tavily) Search(ctx context.Context, query string) (*Response, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		MaxResults:    t.maxResults,
		SearchDepth:   t.depth,
		IncludeAnswer: t.includeAnswer,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	t.logger.Debug("search request", "query", query, "max_results", t.maxResults, "depth", t.depth)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, 512))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: msg}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	t.logger.Debug("search complete",
		"results", len(out.Results),
		"has_answer", out.Answer != "",
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return &out, nil
}

// Close releases the provider's idle connections. A client supplied
// with [WithHTTPClient] is left to its owner.
func (t *Tavily) Close() {
	if t.ownsHTTP {
		httpkit.CloseIdle(t.httpClient)
	}
}
