package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/prompts"
	"github.com/nugget/jarvis/internal/search"
)

// fakeLLM is an httptest chat-completion server that records the
// system prompt of every request.
type fakeLLM struct {
	srv *httptest.Server

	mu      sync.Mutex
	systems []string
	status  int    // non-zero forces an error status
	stream  string // raw SSE body; default streams "Hel","lo"
}

func newFakeLLM(t *testing.T) *fakeLLM {
	t.Helper()
	f := &fakeLLM{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLLM) handle(w http.ResponseWriter, r *http.Request) {
	var req llm.Request
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	system := ""
	if len(req.Messages) > 1 && req.Messages[0].Role == llm.RoleSystem {
		system = req.Messages[0].Content
	}
	f.systems = append(f.systems, system)
	status, body := f.status, f.stream
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, "upstream exploded", status)
		return
	}
	if !req.Stream {
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Hello"}}]}`)
		return
	}
	if body == "" {
		body = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
			"data: [DONE]\n"
	}
	w.Header().Set("Content-Type", "text/event-stream")
	io.WriteString(w, body)
}

func (f *fakeLLM) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func (f *fakeLLM) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.systems...)
}

func (f *fakeLLM) client(t *testing.T) *llm.Client {
	t.Helper()
	c := llm.New(f.srv.URL)
	t.Cleanup(c.Close)
	return c
}

// stubSearch returns a canned response or error.
type stubSearch struct {
	resp    *search.Response
	err     error
	queries []string
}

func (s *stubSearch) Search(ctx context.Context, query string) (*search.Response, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// recordMetrics captures what the orchestrator reports.
type recordMetrics struct {
	turns          []string
	searchFailures int
}

func (m *recordMetrics) ObserveTurn(route, outcome string, _ time.Duration) {
	m.turns = append(m.turns, route+"/"+outcome)
}

func (m *recordMetrics) IncSearchFailures() { m.searchFailures++ }

// stateRecorder collects transitions.
type stateRecorder struct{ states []State }

func (r *stateRecorder) hook(s State) { r.states = append(r.states, s) }

func TestProcess_Direct(t *testing.T) {
	f := newFakeLLM(t)
	srch := &stubSearch{}
	rec := &stateRecorder{}
	var frags []string

	o := New(f.client(t), srch,
		WithStateHook(rec.hook),
		WithFragmentHook(func(s string) { frags = append(frags, s) }),
	)

	out, err := o.Process(t.Context(), "tell me a joke")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.Kind != KindSuccess || !out.Succeeded() {
		t.Errorf("Kind = %v, want success", out.Kind)
	}
	if out.Text != "Hello" {
		t.Errorf("Text = %q, want %q", out.Text, "Hello")
	}
	if out.Route != RouteDirect || out.Augmented {
		t.Errorf("Route = %q, Augmented = %v; want direct, false", out.Route, out.Augmented)
	}
	if len(srch.queries) != 0 {
		t.Error("direct turn should not search")
	}
	if diff := cmp.Diff([]string{"Hel", "lo"}, frags); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}

	wantStates := []State{StateClassifying, StateDirect, StateComposing, StateGenerating, StateDone, StateIdle}
	if diff := cmp.Diff(wantStates, rec.states); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{prompts.PersonaPrompt()}, f.calls()); diff != "" {
		t.Errorf("system prompts (-want +got):\n%s", diff)
	}

	id, err := uuid.Parse(out.TurnID)
	if err != nil || id.Version() != 7 {
		t.Errorf("TurnID %q should be a UUIDv7", out.TurnID)
	}
}

func TestProcess_SearchAugmented(t *testing.T) {
	f := newFakeLLM(t)
	srch := &stubSearch{resp: &search.Response{
		Answer:  "Sunny, 30C",
		Results: []search.Result{{Title: "Forecast", Content: "Clear skies all day"}},
	}}
	rec := &stateRecorder{}
	m := &recordMetrics{}

	o := New(f.client(t), srch, WithStateHook(rec.hook), WithMetrics(m))

	out, err := o.Process(t.Context(), "What's the WEATHER today")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Kind != KindSuccess || !out.Augmented || out.Route != RouteSearch {
		t.Errorf("outcome = %+v, want augmented success via search", out)
	}
	if diff := cmp.Diff([]string{"What's the WEATHER today"}, srch.queries); diff != "" {
		t.Errorf("queries (-want +got):\n%s", diff)
	}

	want := prompts.SearchPersonaPrompt("Summary: Sunny, 30C\n- Forecast: Clear skies all day...")
	if diff := cmp.Diff([]string{want}, f.calls()); diff != "" {
		t.Errorf("system prompts (-want +got):\n%s", diff)
	}

	wantStates := []State{StateClassifying, StateSearching, StateComposing, StateGenerating, StateDone, StateIdle}
	if diff := cmp.Diff(wantStates, rec.states); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"search/success"}, m.turns); diff != "" {
		t.Errorf("metrics (-want +got):\n%s", diff)
	}
}

func TestProcess_SearchFailureDegrades(t *testing.T) {
	// A real Tavily client aimed at a closed port: a network error.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	tavily, err := search.NewTavily("tvly-test", search.WithURL(deadURL))
	if err != nil {
		t.Fatal(err)
	}
	defer tavily.Close()

	tests := []struct {
		name     string
		searcher search.Provider
	}{
		{"network error", tavily},
		{"upstream status", &stubSearch{err: &search.UpstreamError{StatusCode: 432}}},
		{"missing credential", search.Unavailable{Err: search.ErrMissingCredential}},
		{"no provider", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeLLM(t)
			m := &recordMetrics{}
			o := New(f.client(t), tt.searcher, WithMetrics(m))

			out, err := o.Process(t.Context(), "latest news please")
			if err != nil {
				t.Fatalf("Process: %v", err)
			}

			if !out.Succeeded() {
				t.Fatalf("turn should not fail on search error, got %+v", out)
			}
			if out.Kind != KindSearchFailed || out.SearchErr == nil {
				t.Errorf("Kind = %v, SearchErr = %v; want search_failed with cause", out.Kind, out.SearchErr)
			}
			if out.Text != "Hello" {
				t.Errorf("Text = %q, want the plain-prompt answer", out.Text)
			}
			if out.Augmented {
				t.Error("degraded turn must not be augmented")
			}
			// Generation was still attempted, with the plain prompt.
			if diff := cmp.Diff([]string{prompts.PersonaPrompt()}, f.calls()); diff != "" {
				t.Errorf("system prompts (-want +got):\n%s", diff)
			}
			if m.searchFailures != 1 {
				t.Errorf("searchFailures = %d, want 1", m.searchFailures)
			}
			if o.State() != StateIdle {
				t.Errorf("State = %v, want idle", o.State())
			}
		})
	}
}

func TestProcess_EmptySearchResultsUsePlainPrompt(t *testing.T) {
	f := newFakeLLM(t)
	o := New(f.client(t), &stubSearch{resp: &search.Response{}})

	out, err := o.Process(t.Context(), "search for nothing")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindSuccess || out.Augmented {
		t.Errorf("outcome = %+v, want plain success", out)
	}
	if diff := cmp.Diff([]string{prompts.PersonaPrompt()}, f.calls()); diff != "" {
		t.Errorf("system prompts (-want +got):\n%s", diff)
	}
}

func TestProcess_GenerationFailure(t *testing.T) {
	for _, mode := range []Mode{ModeStream, ModeBatch} {
		t.Run(mode.String(), func(t *testing.T) {
			f := newFakeLLM(t)
			f.setStatus(http.StatusInternalServerError)
			rec := &stateRecorder{}
			m := &recordMetrics{}
			o := New(f.client(t), &stubSearch{}, WithMode(mode), WithStateHook(rec.hook), WithMetrics(m))

			out, err := o.Process(t.Context(), "tell me a joke")
			if err != nil {
				t.Fatalf("Process returned error %v; failures belong in the outcome", err)
			}
			if out.Kind != KindGenerationFailed || out.Succeeded() {
				t.Fatalf("Kind = %v, want generation_failed", out.Kind)
			}
			var upErr *llm.UpstreamError
			if !errors.As(out.Err, &upErr) || upErr.StatusCode != 500 {
				t.Errorf("Err = %v, want 500 UpstreamError", out.Err)
			}
			if out.Text != "" {
				t.Errorf("Text = %q, want empty", out.Text)
			}

			wantStates := []State{StateClassifying, StateDirect, StateComposing, StateGenerating, StateFailed, StateIdle}
			if diff := cmp.Diff(wantStates, rec.states); diff != "" {
				t.Errorf("transitions (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"direct/generation_failed"}, m.turns); diff != "" {
				t.Errorf("metrics (-want +got):\n%s", diff)
			}

			// Back in Idle and ready for the next utterance.
			if o.State() != StateIdle {
				t.Fatalf("State = %v, want idle", o.State())
			}
			f.setStatus(0)
			next, err := o.Process(t.Context(), "tell me another")
			if err != nil || next.Kind != KindSuccess || next.Text != "Hello" {
				t.Errorf("next turn = %+v, %v; want success", next, err)
			}
		})
	}
}

func TestProcess_MalformedStream(t *testing.T) {
	f := newFakeLLM(t)
	f.stream = "data: {\"choices\":[{\"delta\":{\"content\":\"Par\"}}]}\n" +
		"data: {not json\n"
	var frags []string
	o := New(f.client(t), nil, WithFragmentHook(func(s string) { frags = append(frags, s) }))

	out, err := o.Process(t.Context(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	var mErr *llm.MalformedResponseError
	if out.Kind != KindGenerationFailed || !errors.As(out.Err, &mErr) {
		t.Errorf("outcome = %+v, want generation_failed with malformed response", out)
	}
	// Fragments already delivered stay delivered.
	if diff := cmp.Diff([]string{"Par"}, frags); diff != "" {
		t.Errorf("fragments (-want +got):\n%s", diff)
	}
}

func TestProcess_BatchMode(t *testing.T) {
	f := newFakeLLM(t)
	var frags []string
	o := New(f.client(t), nil,
		WithMode(ModeBatch),
		WithFragmentHook(func(s string) { frags = append(frags, s) }),
	)

	out, err := o.Process(t.Context(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindSuccess || out.Text != "Hello" {
		t.Errorf("outcome = %+v", out)
	}
	if diff := cmp.Diff([]string{"Hello"}, frags); diff != "" {
		t.Errorf("batch mode should report the whole answer once (-want +got):\n%s", diff)
	}
}

func TestProcess_NoSpeech(t *testing.T) {
	f := newFakeLLM(t)
	rec := &stateRecorder{}
	o := New(f.client(t), nil, WithStateHook(rec.hook))

	for _, u := range []string{"", "   ", "\n\t"} {
		out, err := o.Process(t.Context(), u)
		if !errors.Is(err, ErrNoSpeech) {
			t.Errorf("Process(%q) error = %v, want ErrNoSpeech", u, err)
		}
		if out.TurnID != "" {
			t.Errorf("no turn should start for %q", u)
		}
	}
	if len(rec.states) != 0 {
		t.Errorf("no transitions expected, got %v", rec.states)
	}
	if len(f.calls()) != 0 {
		t.Error("generation service should not be contacted")
	}
}

// cancelSearch cancels the turn's context from inside the search.
type cancelSearch struct{ cancel context.CancelFunc }

func (c cancelSearch) Search(ctx context.Context, _ string) (*search.Response, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestProcess_CancelledDuringSearch(t *testing.T) {
	f := newFakeLLM(t)
	rec := &stateRecorder{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	o := New(f.client(t), cancelSearch{cancel: cancel}, WithStateHook(rec.hook))

	out, err := o.Process(ctx, "today's news")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindGenerationFailed || !errors.Is(out.Err, context.Canceled) {
		t.Errorf("outcome = %+v, want failed with context.Canceled", out)
	}
	wantStates := []State{StateClassifying, StateSearching, StateFailed, StateIdle}
	if diff := cmp.Diff(wantStates, rec.states); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	if len(f.calls()) != 0 {
		t.Error("generation should not start after cancellation")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStream, false},
		{"stream", ModeStream, false},
		{"BATCH", ModeBatch, false},
		{"chunked", ModeStream, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestStateAndKindStrings(t *testing.T) {
	if StateSearching.String() != "searching" || State(99).String() != "unknown" {
		t.Error("State.String mismatch")
	}
	if KindSearchFailed.String() != "search_failed" || Kind(99).String() != "unknown" {
		t.Error("Kind.String mismatch")
	}
	if !strings.Contains(ErrNoSpeech.Error(), "no speech") {
		t.Error("ErrNoSpeech text")
	}
}
