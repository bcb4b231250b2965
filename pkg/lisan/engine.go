package lisan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/satriadp/lisan/pkg/configutil"
	"github.com/satriadp/lisan/pkg/generation"
	"github.com/satriadp/lisan/pkg/metrics"
	"github.com/satriadp/lisan/pkg/observers"
	"github.com/satriadp/lisan/pkg/redact"
	"github.com/satriadp/lisan/pkg/resilience"
	"github.com/satriadp/lisan/pkg/runner"
	"github.com/satriadp/lisan/pkg/session"
	"github.com/satriadp/lisan/pkg/synthesis"
	"github.com/satriadp/lisan/pkg/transports"
	"github.com/satriadp/lisan/pkg/transports/ws"
	"github.com/satriadp/lisan/pkg/vad"
)

// Engine wires the full voice loop: a transport accepting duplex
// connections, a session per connection, the generation streamer, and
// the synthesis dispatcher shared across sessions.
type Engine struct {
	cfg       Config
	manager   *session.Manager
	transport transports.Transport
	providers *ProviderRegistry
	runner    runner.Runner
	asyncObs  *metrics.AsyncObserver
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport overrides the one built from Config.Transports.
	Transport transports.Transport
	// Observers are appended to the built-in latency and logger sinks.
	Observers []metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("lisan_init",
		"environment", cfg.Environment,
		"generator", cfg.Vendors.Generator.Provider,
		"transcriber", cfg.Vendors.Transcriber.Provider,
		"synthesizer", cfg.Vendors.Synthesizer.Provider,
		"transport", cfg.Transports.Provider,
	)

	latencyObs := metrics.NewLatencyObserver(slog.Default())
	logObs := observers.NewLoggerObserver(slog.Default())
	obsList := []metrics.Observer{latencyObs, logObs}
	var timelineObs *observers.TimelineObserver
	var usageObs *observers.UsageObserver
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		timelineObs = observers.NewTimelineObserver(dir)
		usageObs = observers.NewUsageObserver(dir)
		obsList = append(obsList, timelineObs, usageObs)
	}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(metrics.NewMultiObserver(obsList...), 2048)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}

	gen, err := providers.BuildGenerator(cfg.Vendors.Generator.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}

	var synth synthesis.Synthesizer
	if provider := strings.TrimSpace(cfg.Vendors.Synthesizer.Provider); provider != "" {
		synth, err = providers.BuildSynthesizer(provider, cfg)
		if err != nil {
			return nil, fmt.Errorf("build synthesizer: %w", err)
		}
	}

	pool := generation.NewPool(cfg.Generation.PoolLimit,
		time.Duration(cfg.Generation.AcquireWaitMS)*time.Millisecond)
	streamer := generation.NewStreamer(gen, pool, generation.StreamerConfig{
		Timeout:   time.Duration(cfg.Generation.TimeoutMS) * time.Millisecond,
		ErrorText: cfg.Generation.ErrorText,
	}, slog.Default())
	streamer.SetObserver(asyncObs)

	var dispatcher *synthesis.Dispatcher
	if synth != nil {
		dispatcher, err = synthesis.NewDispatcher(synth, synthesis.DispatcherConfig{
			Voices: synthesis.VoiceMap{
				Default: cfg.Synthesis.DefaultVoice,
				ByLang:  cfg.Synthesis.VoicesByLanguage,
			},
			Timeout:   time.Duration(cfg.Synthesis.TimeoutMS) * time.Millisecond,
			CacheSize: cfg.Synthesis.CacheSize,
			Retry: resilience.NewRetryPolicy(cfg.Synthesis.Retries,
				time.Duration(cfg.Synthesis.RetryBackoffMS)*time.Millisecond),
			Breaker: resilience.NewCircuitBreaker(cfg.Synthesis.BreakerThreshold,
				time.Duration(cfg.Synthesis.BreakerCooldownMS)*time.Millisecond),
		}, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("build dispatcher: %w", err)
		}
		dispatcher.SetObserver(asyncObs)
	} else {
		slog.Warn("no synthesizer configured, turns go out text-only")
	}

	manager := session.NewManager(slog.Default())
	sessionCfg := sessionConfig(cfg)
	factory := transports.SessionFactory(func(id string, send session.Sender) *session.Session {
		s := session.New(id, send, streamer, dispatcher, sessionCfg, slog.Default())
		s.SetObserver(asyncObs)
		return s
	})

	transport := opts.Transport
	if transport == nil {
		transport, err = buildTransport(cfg, factory, manager)
		if err != nil {
			return nil, err
		}
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Lisan Engine Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			asyncObs.Close()
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			if usageObs != nil {
				_ = usageObs.Close()
			}
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_sessions", manager.Len())
		},
	}

	drainer := runner.DrainerFunc(func() error {
		_ = transport.Stop()
		manager.CloseAll()
		return nil
	})

	lr := runner.NewLifecycleRunner(drainer, hooks, 30*time.Second)

	return &Engine{
		cfg:       cfg,
		manager:   manager,
		transport: transport,
		providers: providers,
		runner:    lr,
		asyncObs:  asyncObs,
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) Manager() *session.Manager { return e.manager }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}

func buildTransport(cfg Config, factory transports.SessionFactory, manager *session.Manager) (transports.Transport, error) {
	switch normalizeName(cfg.Transports.Provider) {
	case "ws":
		var wsCfg ws.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &wsCfg); err != nil {
			return nil, fmt.Errorf("transports.settings: %w", err)
		}
		return ws.New(wsCfg, factory, manager, slog.Default()), nil
	default:
		return nil, fmt.Errorf("transport provider not registered: %s", cfg.Transports.Provider)
	}
}

func sessionConfig(cfg Config) session.Config {
	return session.Config{
		Language:             cfg.Session.Language,
		SampleRate:           cfg.Session.SampleRate,
		Channels:             cfg.Session.Channels,
		ContextWindow:        cfg.Session.ContextWindow,
		WatchdogTimeout:      time.Duration(cfg.Session.WatchdogTimeoutMS) * time.Millisecond,
		FirstIncrementTarget: time.Duration(cfg.Session.FirstIncrementTargetMS) * time.Millisecond,
		Gate: vad.Config{
			SampleRate:        cfg.Session.SampleRate,
			WindowSamples:     cfg.Gate.WindowSamples,
			Threshold:         cfg.Gate.Threshold,
			MinVoiceWindows:   cfg.Gate.MinVoiceWindows,
			MinSilenceWindows: cfg.Gate.MinSilenceWindows,
		},
	}
}

func SetDefaultLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
