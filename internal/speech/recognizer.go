package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// SampleRate is the capture rate whisper models expect.
const SampleRate = 16000

// WhisperConfig configures a [Whisper] recognizer.
type WhisperConfig struct {
	// URL is the whisper.cpp server base URL, e.g. http://localhost:8178.
	URL string

	// Recorder is the capture binary (arecord-compatible). Default arecord.
	Recorder string

	// Device is the ALSA capture device. Empty uses the default.
	Device string

	// Language is the spoken language hint. Default en.
	Language string
}

// Whisper records with arecord and transcribes with a whisper.cpp
// server's /inference endpoint.
type Whisper struct {
	cfg     WhisperConfig
	http    *http.Client
	command commandFunc
	logger  *slog.Logger
}

// NewWhisper creates a recognizer.
func NewWhisper(cfg WhisperConfig, logger *slog.Logger) *Whisper {
	if cfg.Recorder == "" {
		cfg.Recorder = "arecord"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Whisper{
		cfg:     cfg,
		http:    httpkit.NewClient(httpkit.WithTimeout(2 * time.Minute)),
		command: exec.CommandContext,
		logger:  logger.With("component", "stt"),
	}
}

// Listen records for d, then transcribes the recording.
func (w *Whisper) Listen(ctx context.Context, d time.Duration) (string, error) {
	wav, err := w.Record(ctx, d)
	if err != nil {
		return "", err
	}
	return w.Transcribe(ctx, wav)
}

// Record captures d of 16 kHz mono 16-bit audio as a WAV file. arecord
// only takes whole seconds, so d is rounded up.
func (w *Whisper) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	args := []string{
		"-q",
		"-f", "S16_LE",
		"-r", strconv.Itoa(SampleRate),
		"-c", "1",
		"-t", "wav",
		"-d", strconv.Itoa(secs),
	}
	if w.cfg.Device != "" {
		args = append(args, "-D", w.cfg.Device)
	}
	args = append(args, "-")

	cmd := w.command(ctx, w.cfg.Recorder, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	w.logger.Debug("recording", "seconds", secs, "device", w.cfg.Device)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("record: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Transcribe posts wav to the whisper server and returns the trimmed
// transcript.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "speech.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        w.cfg.Language,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	w.logger.Debug("transcribed", "chars", len(text), "elapsed", time.Since(start).Round(time.Millisecond))
	return text, nil
}

// Close releases idle connections to the whisper server.
func (w *Whisper) Close() {
	httpkit.CloseIdle(w.http)
}
