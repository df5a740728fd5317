package main

import (
	"fmt"
	"io"

	"github.com/nugget/jarvis/internal/mqtt"
	"github.com/nugget/jarvis/internal/turn"
)

// terminal renders turn progress: a notice when the web is searched and
// the answer as it streams. It also mirrors turn states into presence.
// Hooks run on the goroutine calling Process.
type terminal struct {
	w        io.Writer
	presence *mqtt.Presence
	quiet    bool // suppress conversation output (json mode)
	answered bool // "Jarvis: " already printed this turn
}

func newTerminal(w io.Writer, presence *mqtt.Presence) *terminal {
	return &terminal{w: w, presence: presence}
}

func (t *terminal) begin() {
	t.answered = false
}

func (t *terminal) end() {
	if t.answered && !t.quiet {
		fmt.Fprintln(t.w)
	}
}

func (t *terminal) onState(s turn.State) {
	switch s {
	case turn.StateClassifying, turn.StateDirect, turn.StateSearching,
		turn.StateComposing, turn.StateGenerating:
		t.presence.SetActivity(mqtt.ActivityThinking)
	}
	if s == turn.StateSearching && !t.quiet {
		fmt.Fprintln(t.w, "Searching the web...")
	}
}

func (t *terminal) onFragment(f string) {
	if t.quiet {
		return
	}
	if !t.answered {
		t.answered = true
		fmt.Fprint(t.w, "Jarvis: ")
	}
	fmt.Fprint(t.w, f)
}
