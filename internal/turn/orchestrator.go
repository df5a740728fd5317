// Package turn drives one conversational turn: classify the utterance,
// optionally search the web, compose the prompt, and generate the
// answer.
//
// Search is best-effort. Any search failure is logged and the turn
// continues on the plain prompt. Generation failure is the only thing
// that fails a turn, because there is no other source of an answer.
// Turns run strictly one at a time.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/jarvis/internal/intent"
	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/metrics"
	"github.com/nugget/jarvis/internal/prompts"
	"github.com/nugget/jarvis/internal/search"
)

// Mode selects how the answer is generated.
type Mode int

const (
	// ModeStream reads the answer as fragments and reports each to the
	// fragment hook as it arrives.
	ModeStream Mode = iota

	// ModeBatch waits for the whole answer in one response.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "stream"
}

// ParseMode maps "stream" and "batch" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stream":
		return ModeStream, nil
	case "batch":
		return ModeBatch, nil
	default:
		return ModeStream, fmt.Errorf("unknown generation mode %q (valid: stream, batch)", s)
	}
}

// Generator produces answers. *llm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, p llm.Params) (string, error)
	GenerateStream(ctx context.Context, prompt, system string, p llm.Params) (*llm.Stream, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMode sets the generation mode. The default is ModeStream.
func WithMode(m Mode) Option {
	return func(o *Orchestrator) { o.mode = m }
}

// WithParams sets the generation parameters.
func WithParams(p llm.Params) Option {
	return func(o *Orchestrator) { o.params = p }
}

// WithStateHook registers fn to be called on every state transition.
// It runs synchronously on the turn's goroutine and must not block.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithFragmentHook registers fn to receive answer text as it arrives:
// each fragment in ModeStream, the whole answer once in ModeBatch.
func WithFragmentHook(fn func(string)) Option {
	return func(o *Orchestrator) { o.onFragment = fn }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.TurnMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator runs turns against a generator and a search provider.
type Orchestrator struct {
	gen      Generator
	searcher search.Provider

	mode       Mode
	params     llm.Params
	onState    func(State)
	onFragment func(string)
	metrics    metrics.TurnMetrics
	logger     *slog.Logger

	mu    sync.Mutex // held for the whole of a turn
	state atomic.Int32
}

// New creates an orchestrator. searcher may be nil, in which case every
// search-worthy turn degrades to the plain prompt.
func New(gen Generator, searcher search.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:      gen,
		searcher: searcher,
		mode:     ModeStream,
		params:   llm.DefaultParams(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.searcher == nil {
		o.searcher = search.Unavailable{}
	}
	if o.metrics == nil {
		o.metrics = metrics.Noop{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "turn")
	return o
}

// State returns the current state. Between turns it is always
// StateIdle.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	if o.onState != nil {
		o.onState(s)
	}
}

// Process runs one turn for utterance. The only error it returns is
// ErrNoSpeech, before any state is entered; every other result,
// including generation failure, is reported in the Outcome. Concurrent
// calls are serialized.
func (o *Orchestrator) Process(ctx context.Context, utterance string) (Outcome, error) {
	if strings.TrimSpace(utterance) == "" {
		return Outcome{}, ErrNoSpeech
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.setState(StateIdle)

	out := Outcome{TurnID: newTurnID(), Route: RouteDirect}
	log := o.logger.With("turn_id", out.TurnID)
	start := time.Now()

	o.setState(StateClassifying)
	augment := intent.NeedsAugmentation(utterance)

	var searchContext string
	if augment {
		out.Route = RouteSearch
		o.setState(StateSearching)
		log.Info("turn started", "route", out.Route, "trigger", intent.Trigger(utterance))

		searchContext, out.SearchErr = o.search(ctx, log, utterance)
		if out.SearchErr != nil {
			o.metrics.IncSearchFailures()
			if ctx.Err() != nil {
				return o.fail(log, out, start, StateSearching, ctx.Err())
			}
		}
	} else {
		o.setState(StateDirect)
		log.Info("turn started", "route", out.Route)
	}

	o.setState(StateComposing)
	spec := prompts.Compose(utterance, searchContext)
	out.Augmented = spec.Augmented

	o.setState(StateGenerating)
	text, err := o.generate(ctx, spec)
	if err != nil {
		return o.fail(log, out, start, StateGenerating, err)
	}

	o.setState(StateDone)
	out.Text = text
	out.Kind = KindSuccess
	if out.SearchErr != nil {
		out.Kind = KindSearchFailed
	}
	out.Duration = time.Since(start)
	o.metrics.ObserveTurn(out.Route, out.Kind.String(), out.Duration)

	log.Info("turn complete",
		"outcome", out.Kind,
		"augmented", out.Augmented,
		"chars", len(out.Text),
		"elapsed", out.Duration.Round(time.Millisecond),
	)
	return out, nil
}

// fail records a turn that produced no answer.
func (o *Orchestrator) fail(log *slog.Logger, out Outcome, start time.Time, from State, err error) (Outcome, error) {
	o.setState(StateFailed)
	out.Kind = KindGenerationFailed
	out.Err = err
	out.Duration = time.Since(start)
	o.metrics.ObserveTurn(out.Route, out.Kind.String(), out.Duration)

	log.Error("turn failed",
		"state", from,
		"error", err,
		"elapsed", out.Duration.Round(time.Millisecond),
	)
	return out, nil
}

// search returns formatted context for utterance. An empty context with
// a nil error means the provider had nothing usable.
func (o *Orchestrator) search(ctx context.Context, log *slog.Logger, utterance string) (string, error) {
	resp, err := o.searcher.Search(ctx, utterance)
	if err != nil {
		log.Warn("search failed, continuing without web context", "error", err)
		return "", err
	}

	formatted := search.FormatResults(resp)
	if formatted == "" {
		log.Info("search returned no usable context")
		return "", nil
	}
	log.Debug("search context", "results", len(resp.Results), "chars", len(formatted))
	return formatted, nil
}

func (o *Orchestrator) generate(ctx context.Context, spec prompts.PromptSpec) (string, error) {
	if o.mode == ModeBatch {
		text, err := o.gen.Generate(ctx, spec.User, spec.System, o.params)
		if err != nil {
			return "", err
		}
		if o.onFragment != nil {
			o.onFragment(text)
		}
		return text, nil
	}

	stream, err := o.gen.GenerateStream(ctx, spec.User, spec.System, o.params)
	if err != nil {
		return "", err
	}
	return llm.Collect(stream, o.onFragment)
}

// newTurnID returns a time-ordered UUIDv7, falling back to a random v4.
func newTurnID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
