// Package llm is the client for an OpenAI-style chat-completion server
// (llama.cpp's server in practice). It has two modes: [Client.Generate]
// returns the whole answer at once, and [Client.GenerateStream] returns
// a [Stream] of text fragments read from a server-sent-event body as
// they arrive.
//
// A Client owns one connection pool for its lifetime; [Client.Close]
// releases it. Nothing is retried.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// DefaultTimeout bounds a batch call, and stream setup plus each idle
// gap between stream lines.
const DefaultTimeout = 120 * time.Second

const completionsPath = "/v1/chat/completions"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client's own connection pool. The caller
// then owns closing it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.ownsHTTP = false
	}
}

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithModel sets the model name sent with each request. Empty omits it.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// Client talks to one chat-completion server.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	ownsHTTP   bool
	logger     *slog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  DefaultTimeout,
		ownsHTTP: true,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "llm")

	if c.httpClient == nil {
		// No global timeout: a stream may legitimately run longer than
		// any fixed bound. Deadlines come from contexts instead.
		c.httpClient = httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithResponseHeaderTimeout(c.timeout),
			httpkit.WithoutHTTP2(),
		)
	}
	return c
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Generate requests a complete answer with stream=false and returns
// choices[0].message.content. A non-2xx status yields [*UpstreamError];
// an envelope without that content yields [*MalformedResponseError].
func (c *Client) Generate(ctx context.Context, prompt, system string, p Params) (string, error) {
	req, err := NewRequest(prompt, system, p, false)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var env chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", timeoutCause(ctx, &MalformedResponseError{Reason: "invalid response JSON", Err: err})
	}
	if len(env.Choices) == 0 {
		return "", &MalformedResponseError{Reason: "response has no choices"}
	}
	msg := env.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", &MalformedResponseError{Reason: "choices[0].message.content missing"}
	}

	c.logger.Debug("generation complete",
		"mode", "batch",
		"chars", len(*msg.Content),
		"finish_reason", env.Choices[0].FinishReason,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", *msg.Content)

	return *msg.Content, nil
}

// GenerateStream requests an answer with stream=true and returns once
// the response headers arrive. The caller must drain the stream with
// [Stream.Next] until it returns an error, or abandon it with
// [Stream.Close]; [Collect] does both.
//
// Setup is bounded by the client timeout, and so is every idle gap
// between lines once streaming; the total duration is not.
func (c *Client) GenerateStream(ctx context.Context, prompt, system string, p Params) (*Stream, error) {
	req, err := NewRequest(prompt, system, p, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	idle := time.AfterFunc(c.timeout, func() { cancel(ErrTimeout) })

	resp, err := c.post(ctx, req)
	if err != nil {
		idle.Stop()
		cancel(nil)
		return nil, err
	}

	return newStream(ctx, resp.Body, cancel, idle, c.timeout, c.logger), nil
}

// post sends req and returns the response when its status is 2xx. Any
// other status is consumed and returned as [*UpstreamError].
func (c *Client) post(ctx context.Context, req Request) (*http.Response, error) {
	jsonData, err := json.Marshal(wireRequest{Model: c.model, Request: req})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("generation request",
		"stream", req.Stream,
		"messages", len(req.Messages),
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, timeoutCause(ctx, fmt.Errorf("request failed: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, 4096))
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: errBody}
	}
	return resp, nil
}

// Ping checks that the server is up by probing llama.cpp's /health
// endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, 512))}
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// Close releases the client's connection pool. In-flight streams keep
// their own connection until they are drained or closed.
func (c *Client) Close() {
	if c.ownsHTTP {
		httpkit.CloseIdle(c.httpClient)
	}
}

// timeoutCause marks err with [ErrTimeout] when ctx ended because of the
// client's own bound.
func timeoutCause(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
