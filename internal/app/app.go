package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"sauc-asr-client/internal/config"
	"sauc-asr-client/internal/events"
	"sauc-asr-client/internal/observability"
	"sauc-asr-client/internal/observability/logging"
	"sauc-asr-client/internal/observability/metrics"
	"sauc-asr-client/internal/service/audio"
	"sauc-asr-client/internal/service/session"
	"sauc-asr-client/internal/service/transcript"
)

// Application holds process-wide state for one client run.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer
	publisher     *events.Publisher
	metricsServer *observability.Server
}

// Option configures an Application.
type Option func(*Application)

// WithMetrics sets the metrics sink and the gatherer used for the metrics
// endpoint and Pushgateway.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(a *Application) {
		a.metrics = m
		a.gatherer = g
	}
}

// New constructs a new Application from the provided configuration and
// initializes the global logger.
func New(cfg *config.Configuration, opts ...Option) *Application {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	a := &Application{
		Cfg:      cfg,
		Logger:   logging.WithComponent("application"),
		metrics:  metrics.DefaultMetrics,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Logger.Debug().
		Str("logLevel", logCfg.Level).
		Str("logFormat", logCfg.Format).
		Msg("Logger setup completed")
	return a
}

// Start opens the event publisher and, when configured, the metrics endpoint.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	startLogger := a.Logger.With().Str("method", "Start").Logger()

	a.publisher = events.New(a.Cfg.Kafka, events.WithMetrics(a.metrics))

	if addr := a.Cfg.Observability.MetricsAddr; addr != "" {
		a.metricsServer = observability.NewServerWithGatherer(addr, a.gatherer)
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server on %s: %w", addr, err)
		}
	}

	startLogger.Debug().
		Time("startupTime", a.StartupTime).
		Bool("kafka", a.publisher.Enabled()).
		Msg("Client starting")
	return nil
}

// Recognize loads the configured audio file and runs one recognition session.
func (a *Application) Recognize(ctx context.Context) (*session.Result, error) {
	clip, err := audio.Load(a.Cfg.Audio.Path, a.Cfg.Audio.Format)
	if err != nil {
		return nil, err
	}
	a.Logger.Info().
		Str("path", clip.Path).
		Str("format", clip.Format).
		Int("bytes", clip.Size()).
		Msg("Audio loaded")
	if clip.IsWAV() && int(clip.SampleRate) != a.Cfg.Audio.SampleRateHz {
		a.Logger.Warn().
			Uint32("wavRate", clip.SampleRate).
			Int("configuredRate", a.Cfg.Audio.SampleRateHz).
			Msg("WAV sample rate differs from configured rate")
	}

	handler := transcript.NewHandler(a.publisher, a.metrics, a.Cfg.Volc.ResourceID)

	s, err := session.Dial(ctx, session.ConfigFrom(a.Cfg),
		session.WithCallback(handler),
		session.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, clip.Data)
}

// Shutdown flushes events and metrics before process exit. Failures are logged.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().Str("method", "Shutdown").Logger()

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Event publisher close failed")
		}
	}

	if url := a.Cfg.Observability.PushgatewayURL; url != "" {
		if err := observability.Push(ctx, url, a.Cfg.Observability.PushJob, a.gatherer); err != nil {
			shutdownLogger.Warn().Err(err).Str("url", url).Msg("Metrics push failed")
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	shutdownLogger.Debug().Dur("uptime", time.Since(a.StartupTime)).Msg("Client shut down")
}
