package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// PiperConfig configures a [Piper] synthesizer.
type PiperConfig struct {
	Bin        string // default piper-tts
	Model      string // path to the .onnx voice
	Player     string // default aplay
	SampleRate int    // voice sample rate, default 22050
}

// Piper synthesizes with piper's raw PCM output piped straight into
// aplay, so playback starts before synthesis finishes and nothing
// touches disk.
type Piper struct {
	cfg     PiperConfig
	command commandFunc
	logger  *slog.Logger
}

// NewPiper creates a synthesizer.
func NewPiper(cfg PiperConfig, logger *slog.Logger) *Piper {
	if cfg.Bin == "" {
		cfg.Bin = "piper-tts"
	}
	if cfg.Player == "" {
		cfg.Player = "aplay"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Piper{
		cfg:     cfg,
		command: exec.CommandContext,
		logger:  logger.With("component", "tts"),
	}
}

// Speak converts text from markdown to plain words and plays it. Empty
// text is a no-op.
func (p *Piper) Speak(ctx context.Context, text string) error {
	words := PlainText(text)
	if words == "" {
		return nil
	}

	piper := p.command(ctx, p.cfg.Bin, "--model", p.cfg.Model, "--output-raw")
	player := p.command(ctx, p.cfg.Player,
		"-q",
		"-r", strconv.Itoa(p.cfg.SampleRate),
		"-f", "S16_LE",
		"-t", "raw",
		"-",
	)

	piper.Stdin = strings.NewReader(words)
	var piperErr, playerErr bytes.Buffer
	piper.Stderr = &piperErr
	player.Stderr = &playerErr

	pcm, err := piper.StdoutPipe()
	if err != nil {
		return fmt.Errorf("piper stdout: %w", err)
	}
	player.Stdin = pcm

	if err := piper.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Bin, err)
	}
	if err := player.Start(); err != nil {
		_ = piper.Process.Kill()
		_ = piper.Wait()
		return fmt.Errorf("start %s: %w", p.cfg.Player, err)
	}

	p.logger.Debug("speaking", "chars", len(words))

	// The player must finish reading before piper's pipe is closed by
	// Wait, so wait on the player first.
	playErr := player.Wait()
	synthErr := piper.Wait()

	var errs []error
	if synthErr != nil {
		errs = append(errs, fmt.Errorf("%s: %w: %s", p.cfg.Bin, synthErr, strings.TrimSpace(piperErr.String())))
	}
	if playErr != nil {
		errs = append(errs, fmt.Errorf("%s: %w: %s", p.cfg.Player, playErr, strings.TrimSpace(playerErr.String())))
	}
	return errors.Join(errs...)
}
