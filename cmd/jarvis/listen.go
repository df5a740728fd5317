package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/jarvis/internal/mqtt"
	"github.com/nugget/jarvis/internal/turn"
)

// errNoRecognizer is returned when push-to-talk is used without a
// transcription server.
var errNoRecognizer = errors.New("speech input is not configured (set stt.url); type your question instead")

// runListen handles the interactive push-to-talk loop. An empty line
// records from the microphone; any other line is used as the utterance
// directly. SIGINT, SIGTERM, end of input or quit/exit/q end the loop
// cleanly.
func runListen(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, stdout, stderr, opts)
	if err != nil {
		return err
	}
	defer a.close()

	lines := readLines(ctx, stdin)
	fmt.Fprintln(stdout, "Jarvis is ready. Press Enter to speak, type a question, or 'quit' to exit.")

	for {
		fmt.Fprint(stdout, "[Press Enter to speak] ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, "Goodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, "Goodbye!")
			return nil
		}

		line = strings.TrimSpace(line)
		if isQuit(line) {
			fmt.Fprintln(stdout, "Goodbye!")
			return nil
		}

		utterance := line
		if utterance == "" {
			utterance, err = a.listen(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fmt.Fprintf(stdout, "Error: %v\n", err)
				}
				continue
			}
		}
		if strings.TrimSpace(utterance) == "" {
			fmt.Fprintln(stdout, "(No speech detected)")
			continue
		}

		fmt.Fprintf(stdout, "You: %s\n", utterance)
		if _, err := a.converse(ctx, utterance); err != nil && ctx.Err() == nil {
			if errors.Is(err, turn.ErrNoSpeech) {
				fmt.Fprintln(stdout, "(No speech detected)")
				continue
			}
			fmt.Fprintf(stdout, "Error: %v\n", err)
		}
	}
}

// listen records one push-to-talk capture and returns its transcript.
func (a *app) listen(ctx context.Context) (string, error) {
	if a.rec == nil {
		return "", errNoRecognizer
	}

	a.presence.SetActivity(mqtt.ActivityListening)
	defer a.presence.SetActivity(mqtt.ActivityIdle)

	fmt.Fprintf(a.out, "Recording for %gs... Speak now!\n", a.cfg.Listen.RecordSeconds)
	text, err := a.rec.Listen(ctx, a.cfg.Listen.RecordDuration())
	if err != nil {
		return "", fmt.Errorf("speech input: %w", err)
	}
	return text, nil
}

// askResult is the JSON rendering of one "ask" turn.
type askResult struct {
	TurnID      string `json:"turn_id"`
	Route       string `json:"route"`
	Outcome     string `json:"outcome"`
	Augmented   bool   `json:"augmented"`
	Text        string `json:"text"`
	SearchError string `json:"search_error,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func newAskResult(out turn.Outcome) askResult {
	r := askResult{
		TurnID:     out.TurnID,
		Route:      out.Route,
		Outcome:    out.Kind.String(),
		Augmented:  out.Augmented,
		Text:       out.Text,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.SearchErr != nil {
		r.SearchError = out.SearchErr.Error()
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	return r
}

// runAsk handles "jarvis ask <question>": one text turn, printed as it
// streams (or as a JSON document with -o json) and spoken when TTS is
// enabled. A failed turn is returned as an error so the exit status
// reflects it.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, question string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, stdout, stderr, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.outputFmt == "json" {
		a.term.quiet = true
		out, err := a.orch.Process(ctx, question)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newAskResult(out)); err != nil {
			return err
		}
		if !out.Succeeded() {
			return fmt.Errorf("ask: %w", out.Err)
		}
		return nil
	}

	if _, err := a.converse(ctx, question); err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return nil
}

// readLines delivers stdin lines until EOF or ctx ends. The channel is
// closed at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func isQuit(s string) bool {
	switch strings.ToLower(s) {
	case "quit", "exit", "q":
		return true
	}
	return false
}
