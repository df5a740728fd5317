// Package connwatch tracks whether a backing service (the model server,
// typically) is reachable.
//
// A llama.cpp server can take minutes to load its weights, so a failed
// probe at startup is expected rather than fatal. A [Watcher] probes
// with exponential backoff until the first success (2s, 4s, 8s, ...
// capped at 60s), then settles into fixed-interval polling and reports
// every up/down transition through its OnChange callback.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing. Zero fields take the values from
// [DefaultBackoff].
type Backoff struct {
	InitialDelay time.Duration // first retry delay while not yet connected
	MaxDelay     time.Duration // ceiling for retry growth
	Multiplier   float64
	PollInterval time.Duration // steady-state interval once connected
	ProbeTimeout time.Duration // bound on a single probe
}

// DefaultBackoff returns the schedule used when no override is given.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Config configures a [Watcher].
type Config struct {
	// Name identifies the service in logs, e.g. "llm".
	Name string

	// Probe checks service health. It is only ever called from the
	// watcher goroutine.
	Probe ProbeFunc

	Backoff Backoff

	// OnChange is called on the watcher goroutine whenever readiness
	// flips, and once for the first probe result. err is nil when ready.
	// Optional; must not block for long.
	OnChange func(ready bool, err error)

	Logger *slog.Logger
}

// Status is a point-in-time view of a watched service.
type Status struct {
	Name      string
	Ready     bool
	LastCheck time.Time
	LastError error
}

// Watcher monitors one service until its context ends or Stop is called.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    Status
	checked   bool
	everReady bool
}

// Watch starts a watcher in a background goroutine. It panics if Name
// is empty or Probe is nil.
func Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "connwatch", "service", cfg.Name)
	cfg.Backoff = cfg.Backoff.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		status: Status{Name: cfg.Name},
	}
	go w.run(ctx)
	return w
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Status returns the latest probe result.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.cfg.Backoff
	delay := b.InitialDelay
	for {
		ready := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := b.PollInterval
		if !ready && !w.wasEverReady() {
			wait = delay
			delay = time.Duration(float64(delay) * b.Multiplier)
			if delay > b.MaxDelay {
				delay = b.MaxDelay
			}
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// check runs one probe and records it, firing OnChange on transitions.
func (w *Watcher) check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	err := w.cfg.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return false
	}
	ready := err == nil

	w.mu.Lock()
	first := !w.checked
	changed := first || w.status.Ready != ready
	w.checked = true
	w.status.Ready = ready
	w.status.LastCheck = time.Now()
	w.status.LastError = err
	if ready {
		w.everReady = true
	}
	w.mu.Unlock()

	switch {
	case changed && ready:
		w.cfg.Logger.Info("service ready")
	case changed && !first:
		w.cfg.Logger.Warn("service unreachable", "error", err)
	case !ready:
		w.cfg.Logger.Debug("service still unreachable", "error", err)
	}
	if changed && w.cfg.OnChange != nil {
		w.cfg.OnChange(ready, err)
	}
	return ready
}

func (w *Watcher) wasEverReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.everReady
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
