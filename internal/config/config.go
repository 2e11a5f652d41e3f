// Package config provides configuration loading for dealcoach.
//
// Configuration is read from a YAML file and overridden by environment
// variables. Each section maps onto one runtime component; the binaries in
// cmd/ translate sections into component options.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete dealcoach configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	NATS          NATSConfig          `koanf:"nats"`
	Scoring       ScoringConfig       `koanf:"scoring"`
	Grading       GradingConfig       `koanf:"grading"`
	Analyzer      AnalyzerConfig      `koanf:"analyzer"`
	Observer      ObserverConfig      `koanf:"observer"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	Host            string   `koanf:"http_host"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects the session and transcript store.
type StorageConfig struct {
	Driver string `koanf:"driver"` // "memory" or "sqlite"
	Path   string `koanf:"path"`
}

// NATSConfig holds event publishing configuration.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ScoringConfig configures the scoring-model client.
type ScoringConfig struct {
	Provider          string   `koanf:"provider"` // "instant", "http" or "openai"
	Endpoint          string   `koanf:"endpoint"`
	APIKey            Secret   `koanf:"api_key"`
	Model             string   `koanf:"model"`
	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`

	// Remote providers receive redacted transcripts unless disabled.
	RedactionDisabled  bool     `koanf:"redaction_disabled"`
	RedactionAllowList []string `koanf:"redaction_allow_list"`
}

// GradingConfig configures the grading orchestrator and enforcer.
type GradingConfig struct {
	Dispatcher             string   `koanf:"dispatcher"` // "inprocess" or "temporal"
	TranscriptWaitAttempts int      `koanf:"transcript_wait_attempts"`
	TranscriptWaitBase     Duration `koanf:"transcript_wait_base"`
	DeepAnalysisTimeout    Duration `koanf:"deep_analysis_timeout"`
	CommissionRate         float64  `koanf:"commission_rate"`
	DefaultContractValue   float64  `koanf:"default_contract_value"`
	PerformanceBonus       float64  `koanf:"performance_bonus"`
	BonusThreshold         int      `koanf:"bonus_threshold"`
}

// AnalyzerConfig tunes the live conversation analyzer.
type AnalyzerConfig struct {
	FeedCapacity   int      `koanf:"feed_capacity"`
	EarlyWindow    Duration `koanf:"early_window"`
	LateWindow     Duration `koanf:"late_window"`
	MonologueLimit Duration `koanf:"monologue_limit"`
	DedupWindow    Duration `koanf:"dedup_window"`
}

// ObserverConfig tunes the grading-progress poller.
type ObserverConfig struct {
	BaseURL         string   `koanf:"base_url"`
	InitialInterval Duration `koanf:"initial_interval"`
	MaxInterval     Duration `koanf:"max_interval"`
	Deadline        Duration `koanf:"deadline"`
	MaxRetries      int      `koanf:"max_retries"`
	RetryBackoff    Duration `koanf:"retry_backoff"`
}

// TemporalConfig holds Temporal connection settings.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}

	switch c.Scoring.Provider {
	case "instant":
	case "http":
		if c.Scoring.Endpoint == "" {
			return errors.New("scoring.endpoint is required for the http provider")
		}
	case "openai":
		if !c.Scoring.APIKey.IsSet() {
			return errors.New("scoring.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown scoring provider %q", c.Scoring.Provider)
	}
	if c.Scoring.MaxRetries < 0 {
		return fmt.Errorf("scoring.max_retries must be >= 0, got %d", c.Scoring.MaxRetries)
	}

	switch c.Grading.Dispatcher {
	case "inprocess":
	case "temporal":
		if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
			return errors.New("temporal.host_port and temporal.task_queue are required for the temporal dispatcher")
		}
	default:
		return fmt.Errorf("unknown grading dispatcher %q", c.Grading.Dispatcher)
	}
	if c.Grading.TranscriptWaitAttempts < 1 {
		return fmt.Errorf("grading.transcript_wait_attempts must be >= 1, got %d", c.Grading.TranscriptWaitAttempts)
	}
	if c.Grading.CommissionRate <= 0 || c.Grading.CommissionRate > 1 {
		return fmt.Errorf("grading.commission_rate must be in (0, 1], got %f", c.Grading.CommissionRate)
	}

	if c.Analyzer.FeedCapacity < 1 {
		return fmt.Errorf("analyzer.feed_capacity must be >= 1, got %d", c.Analyzer.FeedCapacity)
	}
	if c.Analyzer.EarlyWindow >= c.Analyzer.LateWindow {
		return errors.New("analyzer.early_window must be shorter than analyzer.late_window")
	}

	if c.Observer.InitialInterval > c.Observer.MaxInterval {
		return errors.New("observer.initial_interval must not exceed observer.max_interval")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "dealcoach"
	}

	if cfg.Scoring.Provider == "" {
		cfg.Scoring.Provider = "instant"
	}
	if cfg.Scoring.Model == "" {
		cfg.Scoring.Model = "gpt-4o-mini"
	}
	if cfg.Scoring.Timeout == 0 {
		cfg.Scoring.Timeout = Duration(45 * time.Second)
	}
	if cfg.Scoring.MaxRetries == 0 {
		cfg.Scoring.MaxRetries = 3
	}
	if cfg.Scoring.InitialBackoff == 0 {
		cfg.Scoring.InitialBackoff = Duration(time.Second)
	}
	if cfg.Scoring.MaxBackoff == 0 {
		cfg.Scoring.MaxBackoff = Duration(15 * time.Second)
	}
	if cfg.Scoring.RequestsPerSecond == 0 {
		cfg.Scoring.RequestsPerSecond = 2
	}
	if cfg.Scoring.Burst == 0 {
		cfg.Scoring.Burst = 1
	}

	if cfg.Grading.Dispatcher == "" {
		cfg.Grading.Dispatcher = "inprocess"
	}
	if cfg.Grading.TranscriptWaitAttempts == 0 {
		cfg.Grading.TranscriptWaitAttempts = 5
	}
	if cfg.Grading.TranscriptWaitBase == 0 {
		cfg.Grading.TranscriptWaitBase = Duration(500 * time.Millisecond)
	}
	if cfg.Grading.DeepAnalysisTimeout == 0 {
		cfg.Grading.DeepAnalysisTimeout = Duration(2 * time.Minute)
	}
	if cfg.Grading.CommissionRate == 0 {
		cfg.Grading.CommissionRate = 0.10
	}
	if cfg.Grading.DefaultContractValue == 0 {
		cfg.Grading.DefaultContractValue = 1200
	}
	if cfg.Grading.PerformanceBonus == 0 {
		cfg.Grading.PerformanceBonus = 50
	}
	if cfg.Grading.BonusThreshold == 0 {
		cfg.Grading.BonusThreshold = 90
	}

	if cfg.Analyzer.FeedCapacity == 0 {
		cfg.Analyzer.FeedCapacity = 50
	}
	if cfg.Analyzer.EarlyWindow == 0 {
		cfg.Analyzer.EarlyWindow = Duration(90 * time.Second)
	}
	if cfg.Analyzer.LateWindow == 0 {
		cfg.Analyzer.LateWindow = Duration(5 * time.Minute)
	}
	if cfg.Analyzer.MonologueLimit == 0 {
		cfg.Analyzer.MonologueLimit = Duration(45 * time.Second)
	}
	if cfg.Analyzer.DedupWindow == 0 {
		cfg.Analyzer.DedupWindow = Duration(30 * time.Second)
	}

	if cfg.Observer.BaseURL == "" {
		cfg.Observer.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Observer.InitialInterval == 0 {
		cfg.Observer.InitialInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Observer.MaxInterval == 0 {
		cfg.Observer.MaxInterval = Duration(5 * time.Second)
	}
	if cfg.Observer.Deadline == 0 {
		cfg.Observer.Deadline = Duration(3 * time.Minute)
	}
	if cfg.Observer.MaxRetries == 0 {
		cfg.Observer.MaxRetries = 3
	}
	if cfg.Observer.RetryBackoff == 0 {
		cfg.Observer.RetryBackoff = Duration(time.Second)
	}

	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "dealcoach-grading"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "dealcoach"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
}
