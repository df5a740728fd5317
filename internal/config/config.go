// Package config handles Jarvis configuration loading.
//
// Configuration comes from three layers, applied in order: built-in
// defaults ([Default]), an optional YAML file, and process environment
// overrides ([Config.ApplyEnv]). The file is optional; a bare environment
// with LLM_PORT and TAVILY_API_KEY set is a complete configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfigFile is returned by FindConfig when no file exists on the
// search path. Callers fall back to defaults plus environment.
var ErrNoConfigFile = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/jarvis/config.yaml, /etc/jarvis/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "jarvis", "config.yaml"))
	}

	paths = append(paths, "/etc/jarvis/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or an error wrapping [ErrNoConfigFile].
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfigFile, DefaultSearchPaths())
}

// Config holds all Jarvis configuration.
type Config struct {
	LLM       LLMConfig     `yaml:"llm"`
	Search    SearchConfig  `yaml:"search"`
	Listen    ListenConfig  `yaml:"listen"`
	STT       STTConfig     `yaml:"stt"`
	TTS       TTSConfig     `yaml:"tts"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	Metrics   MetricsConfig `yaml:"metrics"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text (default) or json
}

// LLMConfig points at the chat-completion server (llama.cpp or any
// OpenAI-compatible endpoint).
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"` // optional; llama.cpp ignores it
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
	// Mode selects "stream" (fragments as they arrive) or "batch".
	Mode string `yaml:"mode"`
}

// Timeout returns the per-request upper bound for generation.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// SearchConfig defines the Tavily web search collaborator.
type SearchConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	MaxResults    int    `yaml:"max_results"`
	Depth         string `yaml:"search_depth"` // basic or advanced
	IncludeAnswer bool   `yaml:"include_answer"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// Configured reports whether a Tavily API key is set.
func (c SearchConfig) Configured() bool {
	return c.APIKey != ""
}

// Timeout returns the per-request upper bound for search.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ListenConfig controls the push-to-talk loop.
type ListenConfig struct {
	RecordSeconds float64 `yaml:"record_seconds"`
}

// RecordDuration returns how long each push-to-talk capture lasts.
func (c ListenConfig) RecordDuration() time.Duration {
	return time.Duration(c.RecordSeconds * float64(time.Second))
}

// STTConfig defines the speech recognition collaborator: a local
// recorder plus a whisper.cpp-compatible transcription server.
type STTConfig struct {
	URL      string `yaml:"url"`      // e.g. http://localhost:8178
	Recorder string `yaml:"recorder"` // recording binary, default arecord
	Device   string `yaml:"device"`   // ALSA device; empty = default
	Language string `yaml:"language"`
}

// Configured reports whether a transcription server is set.
func (c STTConfig) Configured() bool {
	return c.URL != ""
}

// TTSConfig defines the speech synthesis collaborator (Piper + aplay).
type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PiperBin   string `yaml:"piper_bin"`
	Model      string `yaml:"model"`
	Player     string `yaml:"player"`
	SampleRate int    `yaml:"sample_rate"`
}

// MQTTConfig defines the optional Home Assistant MQTT presence.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// MetricsConfig defines the optional Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9464"; empty disables
}

// Configured reports whether a metrics listen address is set.
func (c MetricsConfig) Configured() bool {
	return c.Listen != ""
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:     "http://localhost:9000",
			MaxTokens:   512,
			Temperature: 0.7,
			TimeoutSec:  120,
			Mode:        "stream",
		},
		Search: SearchConfig{
			MaxResults:    5,
			Depth:         "basic",
			IncludeAnswer: true,
			TimeoutSec:    30,
		},
		Listen: ListenConfig{RecordSeconds: 5},
		STT: STTConfig{
			Recorder: "arecord",
			Language: "en",
		},
		TTS: TTSConfig{
			PiperBin:   "piper-tts",
			Player:     "aplay",
			SampleRate: 22050,
		},
		MQTT: MQTTConfig{
			DeviceName:         "jarvis",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file on top of [Default].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overlays process environment on cfg. getenv is usually
// os.Getenv; tests pass a map lookup. Recognized variables:
//
//   - LLM_URL: full base URL of the generation server
//   - LLM_PORT: shorthand for http://localhost:<port> (ignored if LLM_URL is set)
//   - TAVILY_API_KEY: search credential
//   - JARVIS_LOG_LEVEL: log level override
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("LLM_URL")); v != "" {
		c.LLM.BaseURL = v
	} else if port := strings.TrimSpace(getenv("LLM_PORT")); port != "" {
		c.LLM.BaseURL = "http://localhost:" + port
	}
	if v := strings.TrimSpace(getenv("TAVILY_API_KEY")); v != "" {
		c.Search.APIKey = v
	}
	if v := strings.TrimSpace(getenv("JARVIS_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for values that would make a turn
// impossible to run.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be within [0,1], got %g", c.LLM.Temperature)
	}
	if c.LLM.TimeoutSec <= 0 {
		return fmt.Errorf("llm.timeout_sec must be positive, got %d", c.LLM.TimeoutSec)
	}
	switch c.LLM.Mode {
	case "stream", "batch":
	default:
		return fmt.Errorf("unknown llm.mode %q (valid: stream, batch)", c.LLM.Mode)
	}
	switch c.Search.Depth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("unknown search.search_depth %q (valid: basic, advanced)", c.Search.Depth)
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 10 {
		return fmt.Errorf("search.max_results must be within [1,10], got %d", c.Search.MaxResults)
	}
	if c.Search.TimeoutSec <= 0 {
		return fmt.Errorf("search.timeout_sec must be positive, got %d", c.Search.TimeoutSec)
	}
	if c.Listen.RecordSeconds <= 0 {
		return fmt.Errorf("listen.record_seconds must be positive, got %g", c.Listen.RecordSeconds)
	}
	if c.TTS.Enabled && c.TTS.Model == "" {
		return fmt.Errorf("tts.model is required when tts is enabled")
	}
	if c.MQTT.Configured() && c.MQTT.PublishIntervalSec <= 0 {
		return fmt.Errorf("mqtt.publish_interval_sec must be positive, got %d", c.MQTT.PublishIntervalSec)
	}
	return nil
}
