package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/config"
	"github.com/nugget/jarvis/internal/connwatch"
	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/metrics"
	"github.com/nugget/jarvis/internal/mqtt"
	"github.com/nugget/jarvis/internal/search"
	"github.com/nugget/jarvis/internal/speech"
	"github.com/nugget/jarvis/internal/turn"
)

// app wires the collaborators for one process. Fields that depend on
// optional config are nil when unconfigured.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	llm      *llm.Client
	tavily   *search.Tavily
	orch     *turn.Orchestrator
	rec      *speech.Whisper
	synth    speech.Synthesizer
	presence *mqtt.Presence
	term     *terminal

	model       *connwatch.Watcher
	metricsSrv  *http.Server
	metricsAddr string
	publisher   *mqtt.Publisher
}

// newApp loads configuration and builds every collaborator. Background
// services (metrics listener, MQTT publisher) are started under ctx and
// stopped by [app.close].
func newApp(ctx context.Context, stdout, stderr io.Writer, opts options) (*app, error) {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(stderr, cfg, opts.verbose)
	logger.Debug("starting Jarvis", "version", buildinfo.Version, "commit", buildinfo.GitCommit)
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	} else {
		logger.Debug("no config file, using defaults and environment")
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		out:      stdout,
		presence: mqtt.NewPresence(),
		synth:    speech.Mute{},
	}

	llmOpts := []llm.Option{
		llm.WithTimeout(cfg.LLM.Timeout()),
		llm.WithLogger(logger),
	}
	if cfg.LLM.Model != "" {
		llmOpts = append(llmOpts, llm.WithModel(cfg.LLM.Model))
	}
	a.llm = llm.New(cfg.LLM.BaseURL, llmOpts...)

	searcher := a.newSearcher()

	mode, err := turn.ParseMode(cfg.LLM.Mode)
	if err != nil {
		a.close()
		return nil, err
	}

	var turnMetrics metrics.TurnMetrics = metrics.Noop{}
	if cfg.Metrics.Configured() {
		prom, err := a.startMetrics(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		turnMetrics = prom
	}
	a.watchModel(ctx, turnMetrics)

	a.term = newTerminal(stdout, a.presence)
	a.orch = turn.New(a.llm, searcher,
		turn.WithMode(mode),
		turn.WithParams(llm.Params{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}),
		turn.WithStateHook(a.term.onState),
		turn.WithFragmentHook(a.term.onFragment),
		turn.WithMetrics(turnMetrics),
		turn.WithLogger(logger),
	)

	if cfg.STT.Configured() {
		a.rec = speech.NewWhisper(speech.WhisperConfig{
			URL:      cfg.STT.URL,
			Recorder: cfg.STT.Recorder,
			Device:   cfg.STT.Device,
			Language: cfg.STT.Language,
		}, logger)
	}
	if cfg.TTS.Enabled {
		a.synth = speech.NewPiper(speech.PiperConfig{
			Bin:        cfg.TTS.PiperBin,
			Model:      cfg.TTS.Model,
			Player:     cfg.TTS.Player,
			SampleRate: cfg.TTS.SampleRate,
		}, logger)
	}

	if cfg.MQTT.Configured() {
		a.startMQTT(ctx)
	}
	return a, nil
}

// newSearcher returns the Tavily provider, or a provider that always
// fails when no credential is configured so search-worthy turns degrade
// instead of aborting startup.
func (a *app) newSearcher() search.Provider {
	t, err := search.NewTavily(a.cfg.Search.APIKey,
		search.WithURL(a.cfg.Search.BaseURL),
		search.WithMaxResults(a.cfg.Search.MaxResults),
		search.WithDepth(a.cfg.Search.Depth),
		search.WithIncludeAnswer(a.cfg.Search.IncludeAnswer),
		search.WithTimeout(a.cfg.Search.Timeout()),
		search.WithLogger(a.logger),
	)
	if err != nil {
		a.logger.Warn("web search disabled", "error", err)
		return search.Unavailable{Err: err}
	}
	a.tavily = t
	return t
}

// startMetrics registers turn metrics on a private registry and serves
// it on the configured address.
func (a *app) startMetrics(ctx context.Context) (*metrics.Prom, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewProm("jarvis", reg)

	ln, err := net.Listen("tcp", a.cfg.Metrics.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	a.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.metricsAddr = ln.Addr().String()
	a.logger.Info("metrics listening", "addr", a.metricsAddr)
	return prom, nil
}

// watchModel probes the model server in the background. A server that
// is still loading its weights only produces a warning; turns fail
// until it answers.
func (a *app) watchModel(ctx context.Context, m metrics.TurnMetrics) {
	prom, _ := m.(*metrics.Prom)
	a.model = connwatch.Watch(ctx, connwatch.Config{
		Name:  "llm",
		Probe: a.llm.Ping,
		OnChange: func(ready bool, err error) {
			if prom != nil {
				prom.SetBackendUp("llm", ready)
			}
			if !ready {
				a.logger.Warn("language model server not reachable, turns will fail until it is up",
					"url", a.llm.BaseURL(), "error", err)
			}
		},
		Logger: a.logger,
	})
}

func (a *app) startMQTT(ctx context.Context) {
	a.publisher = mqtt.New(a.cfg.MQTT, mqtt.InstanceID(a.cfg.MQTT.DeviceName),
		a.presence, a.logger.With("component", "mqtt"))
	go func() {
		if err := a.publisher.Start(ctx); err != nil {
			a.logger.Error("mqtt publisher failed", "error", err)
		}
	}()
}

// close stops background services and releases clients. It is safe to
// call on a partially built app.
func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.publisher != nil {
		if err := a.publisher.Stop(shutdownCtx); err != nil {
			a.logger.Warn("mqtt shutdown failed", "error", err)
		}
	}
	if a.model != nil {
		a.model.Stop()
	}
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	if a.rec != nil {
		a.rec.Close()
	}
	if a.tavily != nil {
		a.tavily.Close()
	}
	if a.llm != nil {
		a.llm.Close()
	}
}

// converse runs one turn and speaks the answer. The error is
// [turn.ErrNoSpeech] for a blank utterance or the generation failure;
// a degraded search is not an error.
func (a *app) converse(ctx context.Context, utterance string) (turn.Outcome, error) {
	a.term.begin()
	out, err := a.orch.Process(ctx, utterance)
	a.term.end()

	if err != nil {
		return out, err
	}
	if !out.Succeeded() {
		a.presence.SetActivity(mqtt.ActivityIdle)
		return out, out.Err
	}

	a.presence.RecordTurn(utterance, out.Text)
	a.speak(ctx, out.Text)
	return out, nil
}

func (a *app) speak(ctx context.Context, text string) {
	a.presence.SetActivity(mqtt.ActivitySpeaking)
	defer a.presence.SetActivity(mqtt.ActivityIdle)

	if err := a.synth.Speak(ctx, text); err != nil && ctx.Err() == nil {
		a.logger.Warn("speech synthesis failed", "error", err)
	}
}
