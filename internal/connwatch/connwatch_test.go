package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testBackoff returns a fast backoff config for tests.
func testBackoff() Backoff {
	return Backoff{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// changeLog records OnChange calls.
type changeLog struct {
	mu     sync.Mutex
	events []bool
}

func (c *changeLog) record(ready bool, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ready)
}

func (c *changeLog) snapshot() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.events...)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDefaultBackoff(t *testing.T) {
	t.Parallel()
	b := DefaultBackoff()
	if b.InitialDelay != 2*time.Second || b.MaxDelay != 60*time.Second {
		t.Errorf("delays = %v..%v, want 2s..60s", b.InitialDelay, b.MaxDelay)
	}
	if b.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s", b.PollInterval)
	}

	if got := (Backoff{}).withDefaults(); got != b {
		t.Errorf("zero Backoff withDefaults = %+v, want %+v", got, b)
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	var changes changeLog

	w := Watch(t.Context(), Config{
		Name:     "llm",
		Probe:    func(context.Context) error { return nil },
		Backoff:  testBackoff(),
		OnChange: changes.record,
		Logger:   quietLogger(),
	})
	defer w.Stop()

	eventually(t, w.Ready, "watcher never became ready")

	// Further successful polls are not transitions.
	time.Sleep(20 * time.Millisecond)
	if got := changes.snapshot(); len(got) != 1 || !got[0] {
		t.Errorf("OnChange events = %v, want [true]", got)
	}
	if st := w.Status(); st.LastError != nil || st.LastCheck.IsZero() || st.Name != "llm" {
		t.Errorf("Status = %+v", st)
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	var changes changeLog

	w := Watch(t.Context(), Config{
		Name: "llm",
		Probe: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("loading model")
			}
			return nil
		},
		Backoff:  testBackoff(),
		OnChange: changes.record,
		Logger:   quietLogger(),
	})
	defer w.Stop()

	eventually(t, w.Ready, "watcher never became ready")
	if got := changes.snapshot(); len(got) != 2 || got[0] || !got[1] {
		t.Errorf("OnChange events = %v, want [false true]", got)
	}
}

func TestWatcher_ServiceGoesDownAndRecovers(t *testing.T) {
	t.Parallel()
	var healthy atomic.Bool
	healthy.Store(true)
	var changes changeLog

	w := Watch(t.Context(), Config{
		Name: "llm",
		Probe: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("connection refused")
		},
		Backoff:  testBackoff(),
		OnChange: changes.record,
		Logger:   quietLogger(),
	})
	defer w.Stop()

	eventually(t, w.Ready, "watcher never became ready")

	healthy.Store(false)
	eventually(t, func() bool { return !w.Ready() }, "watcher never noticed the outage")
	if err := w.Status().LastError; err == nil {
		t.Error("LastError should be set while down")
	}

	healthy.Store(true)
	eventually(t, w.Ready, "watcher never noticed recovery")

	if got := changes.snapshot(); len(got) != 3 || !got[0] || got[1] || !got[2] {
		t.Errorf("OnChange events = %v, want [true false true]", got)
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	t.Parallel()
	b := testBackoff()
	b.ProbeTimeout = 5 * time.Millisecond

	w := Watch(t.Context(), Config{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: b,
		Logger:  quietLogger(),
	})
	defer w.Stop()

	eventually(t, func() bool { return !w.Status().LastCheck.IsZero() }, "probe never completed")
	if err := w.Status().LastError; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("LastError = %v, want deadline exceeded", err)
	}
}

func TestWatcher_StopEndsGoroutine(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32

	w := Watch(t.Context(), Config{
		Name:    "llm",
		Probe:   func(context.Context) error { calls.Add(1); return nil },
		Backoff: testBackoff(),
		Logger:  quietLogger(),
	})
	eventually(t, w.Ready, "watcher never became ready")
	w.Stop()

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != n {
		t.Error("probe still running after Stop")
	}
}

func TestWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())

	w := Watch(ctx, Config{
		Name:    "llm",
		Probe:   func(context.Context) error { return errors.New("down") },
		Backoff: testBackoff(),
		Logger:  quietLogger(),
	})
	cancel()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after context cancellation")
	}
}

func TestWatch_PanicsOnBadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty name", Config{Probe: func(context.Context) error { return nil }}},
		{"nil probe", Config{Name: "llm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			Watch(t.Context(), tt.cfg)
		})
	}
}
