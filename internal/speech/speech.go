// Package speech wraps the external speech collaborators: a recorder
// plus whisper.cpp server for recognition, and Piper piped into aplay
// for synthesis. Both are thin process and HTTP wrappers; no audio is
// processed here.
package speech

import (
	"context"
	"os/exec"
	"time"
)

// Recognizer turns a fixed-length recording into text.
type Recognizer interface {
	// Listen records for d and returns the transcript, which may be
	// empty when nothing was said.
	Listen(ctx context.Context, d time.Duration) (string, error)
}

// Synthesizer speaks text aloud and returns when playback finishes.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Mute is a Synthesizer that says nothing. Used when speech output is
// disabled and the answer is only printed.
type Mute struct{}

func (Mute) Speak(context.Context, string) error { return nil }

// commandFunc builds external commands. Tests replace it.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd
