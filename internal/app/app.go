// Package app assembles dealcoach components from configuration. The
// binaries in cmd/ share it so the server and the grading worker build the
// same pipeline.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/config"
	"github.com/fyrsmithlabs/dealcoach/internal/events"
	"github.com/fyrsmithlabs/dealcoach/internal/grading"
	"github.com/fyrsmithlabs/dealcoach/internal/logging"
	"github.com/fyrsmithlabs/dealcoach/internal/observer"
	"github.com/fyrsmithlabs/dealcoach/internal/scoring"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/session/sqlite"
	"github.com/fyrsmithlabs/dealcoach/internal/telemetry"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// Notifier receives live feedback and grading phase events.
type Notifier interface {
	analyzer.Publisher
	grading.PhaseNotifier
}

// Components holds the infrastructure shared by the pipeline.
type Components struct {
	Config      *config.Config
	Logger      *logging.Logger
	Telemetry   *telemetry.Telemetry
	Sessions    session.Store
	Transcripts transcript.Store
	NATS        *nats.Conn
	Events      *events.Publisher // nil when NATS is disabled

	closers []func() error
}

// Open initializes telemetry, logging, storage and NATS.
//
// This function:
//  1. Starts telemetry providers (no-op unless enabled)
//  2. Creates the logger, bridged to OTEL when telemetry is on
//  3. Opens the session and transcript stores
//  4. Connects to NATS when enabled
func Open(ctx context.Context, cfg *config.Config, version string) (*Components, error) {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	c := &Components{Config: cfg, Telemetry: tel}
	c.closers = append(c.closers, func() error { return tel.Shutdown(context.Background()) })

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.Logger = logger
	c.closers = append(c.closers, logger.Sync)

	if err := c.openStores(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, logger.Underlying())
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		c.NATS = nc
		c.Events = events.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger.Underlying())
		c.closers = append(c.closers, func() error { nc.Close(); return nil })
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return c, nil
}

func (c *Components) openStores(ctx context.Context) error {
	switch c.Config.Storage.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, c.Config.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		c.Sessions = store
		c.Transcripts = store
		c.closers = append(c.closers, store.Close)
	case "memory", "":
		c.Sessions = session.NewMemoryStore()
		c.Transcripts = transcript.NewMemoryStore()
	default:
		return fmt.Errorf("unknown storage driver %q", c.Config.Storage.Driver)
	}
	return nil
}

// Notifier returns the event publisher, or a no-op when NATS is disabled.
func (c *Components) Notifier() Notifier {
	if c.Events == nil {
		return events.Nop{}
	}
	return c.Events
}

// NewRegistry creates the live analyzer registry.
func (c *Components) NewRegistry() *analyzer.Registry {
	return analyzer.NewRegistry(analyzer.RegistryConfig{
		Analyzer:     AnalyzerConfig(c.Config.Analyzer),
		FeedCapacity: c.Config.Analyzer.FeedCapacity,
	}, c.Notifier(), analyzer.NewMetrics(), c.Logger.Underlying())
}

// NewOrchestrator creates the grading orchestrator. A nil dispatcher keeps
// deep analysis in process.
func (c *Components) NewOrchestrator(dispatcher grading.Dispatcher) (*grading.Orchestrator, error) {
	scorer, err := scoring.New(c.Config.Scoring, c.Logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}
	opts := []grading.Option{
		grading.WithLogger(c.Logger.Underlying()),
		grading.WithMetrics(grading.NewMetrics()),
		grading.WithNotifier(c.Notifier()),
	}
	if dispatcher != nil {
		opts = append(opts, grading.WithDispatcher(dispatcher))
	}
	return grading.New(GradingConfig(c.Config), c.Sessions, c.Transcripts, scorer, opts...)
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// AnalyzerConfig maps the analyzer section onto detector thresholds.
func AnalyzerConfig(s config.AnalyzerConfig) analyzer.Config {
	cfg := analyzer.DefaultConfig()
	if d := s.EarlyWindow.Duration(); d > 0 {
		cfg.EarlyWindow = d
	}
	if d := s.LateWindow.Duration(); d > 0 {
		cfg.LateWindow = d
	}
	if d := s.MonologueLimit.Duration(); d > 0 {
		cfg.MonologueLimit = d
	}
	if d := s.DedupWindow.Duration(); d > 0 {
		cfg.DedupWindow = d
	}
	return cfg
}

// GradingConfig maps the grading and analyzer sections onto the
// orchestrator.
func GradingConfig(cfg *config.Config) grading.Config {
	return grading.Config{
		TranscriptWaitAttempts: cfg.Grading.TranscriptWaitAttempts,
		TranscriptWaitBase:     cfg.Grading.TranscriptWaitBase.Duration(),
		DeepAnalysisTimeout:    cfg.Grading.DeepAnalysisTimeout.Duration(),
		Analyzer:               AnalyzerConfig(cfg.Analyzer),
		Enforcer: grading.EnforcerConfig{
			CommissionRate:       cfg.Grading.CommissionRate,
			DefaultContractValue: cfg.Grading.DefaultContractValue,
			PerformanceBonus:     cfg.Grading.PerformanceBonus,
			BonusThreshold:       cfg.Grading.BonusThreshold,
		},
	}
}

// ObserverConfig maps the observer section onto the poll loop.
func ObserverConfig(s config.ObserverConfig) observer.Config {
	return observer.Config{
		InitialInterval: s.InitialInterval.Duration(),
		MaxInterval:     s.MaxInterval.Duration(),
		Deadline:        s.Deadline.Duration(),
		MaxRetries:      s.MaxRetries,
		RetryBackoff:    s.RetryBackoff.Duration(),
	}
}
