package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const doneToken = "[DONE]"

// Stream is a finite, non-restartable sequence of text fragments read
// from one streaming response. It is not safe for concurrent use.
//
// The connection is released when [Stream.Next] reaches the end, on the
// first error, or on [Stream.Close], whichever comes first.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelCauseFunc
	idle    *time.Timer
	timeout time.Duration
	logger  *slog.Logger

	start     time.Time
	fragments int
	err       error
	released  bool
}

func newStream(ctx context.Context, body io.ReadCloser, cancel context.CancelCauseFunc, idle *time.Timer, timeout time.Duration, logger *slog.Logger) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{
		ctx:     ctx,
		body:    body,
		scanner: scanner,
		cancel:  cancel,
		idle:    idle,
		timeout: timeout,
		logger:  logger,
		start:   time.Now(),
	}
}

// Next returns the next fragment. It returns io.EOF once the server
// sends [DONE] or ends the body, a [*MalformedResponseError] for an
// event that is not valid JSON or has no choices, or the transport
// error that interrupted the read. Once Next has returned an error it
// returns the same error forever.
//
// Events without delta content (role-only, finish-only) are skipped.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	for s.scanner.Scan() {
		s.idle.Reset(s.timeout)
		line := s.scanner.Text()
		s.logger.Log(s.ctx, LevelTrace, "stream line", "line", line)

		data, ok := eventData(line)
		if !ok || data == "" {
			continue
		}
		if data == doneToken {
			return "", s.finish(io.EOF)
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", s.finish(&MalformedResponseError{Reason: "invalid event JSON", Err: err})
		}
		if len(chunk.Choices) == 0 {
			if chunk.Usage != nil {
				continue
			}
			return "", s.finish(&MalformedResponseError{Reason: "event has no choices"})
		}

		content := chunk.Choices[0].Delta.Content
		if content == nil || *content == "" {
			continue
		}
		s.fragments++
		return *content, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", s.finish(s.readError(err))
	}
	// Body ended without [DONE]; what arrived is the whole answer.
	return "", s.finish(io.EOF)
}

// Close abandons the stream and releases its connection at once. It is
// safe to call more than once and after the stream has ended.
func (s *Stream) Close() error {
	if s.err == nil {
		s.logger.Debug("stream abandoned", "fragments", s.fragments)
		s.err = ErrStreamClosed
	}
	s.release()
	return nil
}

// Fragments returns how many fragments have been delivered so far.
func (s *Stream) Fragments() int { return s.fragments }

func (s *Stream) finish(err error) error {
	s.err = err
	s.release()
	if errors.Is(err, io.EOF) {
		s.logger.Debug("generation complete",
			"mode", "stream",
			"fragments", s.fragments,
			"elapsed", time.Since(s.start).Round(time.Millisecond),
		)
	} else {
		s.logger.Error("stream failed", "fragments", s.fragments, "error", err)
	}
	return err
}

// release closes the body without draining it. An unread body cannot
// go back to the pool, so the connection is torn down immediately.
func (s *Stream) release() {
	if s.released {
		return
	}
	s.released = true
	s.idle.Stop()
	s.body.Close()
	s.cancel(nil)
}

func (s *Stream) readError(err error) error {
	if errors.Is(err, bufio.ErrTooLong) {
		return &MalformedResponseError{Reason: "event line too long", Err: err}
	}
	err = fmt.Errorf("read stream: %w", err)
	if errors.Is(context.Cause(s.ctx), ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// eventData returns the payload of an SSE data line. Comments, other
// fields (event, id, retry) and blank lines report false.
func eventData(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimPrefix(line, "data:")
	data = strings.TrimPrefix(data, " ")
	return strings.TrimSpace(data), true
}

// Collect drains s, passing each fragment to fn (if non-nil) as it
// arrives, and returns the concatenation. s is always closed. On error
// the text gathered so far is returned along with it.
func Collect(s *Stream, fn func(fragment string)) (string, error) {
	defer s.Close()

	var b strings.Builder
	for {
		frag, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
		if fn != nil {
			fn(frag)
		}
	}
}
