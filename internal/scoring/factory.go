package scoring

import (
	"fmt"

	"github.com/fyrsmithlabs/dealcoach/internal/config"
	"github.com/fyrsmithlabs/dealcoach/internal/redact"
	"go.uber.org/zap"
)

// New builds the Scorer selected by cfg.Provider. Remote providers are
// wrapped in a RedactingScorer unless redaction is disabled.
func New(cfg config.ScoringConfig, logger *zap.Logger) (Scorer, error) {
	var (
		remote Scorer
		err    error
	)
	retry := RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff.Duration(),
		MaxBackoff:     cfg.MaxBackoff.Duration(),
	}
	switch cfg.Provider {
	case "", "instant":
		return NewInstantScorer(), nil
	case "http":
		remote, err = NewHTTPScorer(HTTPConfig{
			Endpoint:          cfg.Endpoint,
			APIKey:            cfg.APIKey.Value(),
			Timeout:           cfg.Timeout.Duration(),
			Retry:             retry,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, logger)
	case "openai":
		remote, err = NewOpenAIScorer(OpenAIConfig{
			APIKey:  cfg.APIKey.Value(),
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Duration(),
			Retry:   retry,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown scoring provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RedactionDisabled {
		return remote, nil
	}

	rcfg := redact.DefaultConfig()
	rcfg.AllowList = cfg.RedactionAllowList
	redactor, err := redact.New(rcfg)
	if err != nil {
		return nil, fmt.Errorf("redaction: %w", err)
	}
	return NewRedactingScorer(remote, redactor, logger), nil
}
