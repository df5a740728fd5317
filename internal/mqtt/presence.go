package mqtt

import (
	"sync"
	"unicode/utf8"
)

// Activity is the coarse assistant state exposed to Home Assistant.
type Activity string

const (
	ActivityIdle      Activity = "idle"
	ActivityListening Activity = "listening"
	ActivityThinking  Activity = "thinking"
	ActivitySpeaking  Activity = "speaking"
)

// maxStateLen is Home Assistant's limit on a sensor state value.
const maxStateLen = 255

// Snapshot is a point-in-time copy of [Presence].
type Snapshot struct {
	Activity      Activity
	LastUtterance string
	LastResponse  string
	Turns         int64
}

// Presence tracks what the assistant is doing. It is safe for
// concurrent use. Every mutation signals [Presence.Changed] so the
// publisher can push state without polling.
type Presence struct {
	mu      sync.Mutex
	snap    Snapshot
	changed chan struct{}
}

// NewPresence returns a tracker in the idle state.
func NewPresence() *Presence {
	return &Presence{
		snap:    Snapshot{Activity: ActivityIdle},
		changed: make(chan struct{}, 1),
	}
}

// SetActivity records the current activity. Setting the activity it
// already has does not signal a change.
func (p *Presence) SetActivity(a Activity) {
	p.mu.Lock()
	if p.snap.Activity == a {
		p.mu.Unlock()
		return
	}
	p.snap.Activity = a
	p.mu.Unlock()
	p.notify()
}

// RecordTurn stores the latest exchange and bumps the turn counter.
func (p *Presence) RecordTurn(utterance, response string) {
	p.mu.Lock()
	p.snap.LastUtterance = truncateState(utterance)
	p.snap.LastResponse = truncateState(response)
	p.snap.Turns++
	p.mu.Unlock()
	p.notify()
}

// Snapshot returns the current state.
func (p *Presence) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Changed fires at least once after any mutation. Signals coalesce.
func (p *Presence) Changed() <-chan struct{} {
	return p.changed
}

func (p *Presence) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func truncateState(s string) string {
	if utf8.RuneCountInString(s) <= maxStateLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxStateLen-3]) + "..."
}
