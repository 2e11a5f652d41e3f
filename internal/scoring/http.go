package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// HTTPConfig configures an HTTPScorer.
type HTTPConfig struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	Retry             RetryConfig
	RequestsPerSecond float64
	Burst             int
}

// HTTPScorer posts the request as JSON to a scoring service endpoint and
// decodes a Result from the response body.
type HTTPScorer struct {
	endpoint   string
	apiKey     string `json:"-"`
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	sleep      sleepFunc
	logger     *zap.Logger
}

// NewHTTPScorer creates an HTTPScorer.
func NewHTTPScorer(cfg HTTPConfig, logger *zap.Logger) (*HTTPScorer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("scoring endpoint required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.Retry.ApplyDefaults()

	return &HTTPScorer{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retry:      cfg.Retry,
		sleep:      sleepCtx,
		logger:     logger,
	}, nil
}

// Name implements Scorer.
func (h *HTTPScorer) Name() string { return "http" }

// Score implements Scorer.
func (h *HTTPScorer) Score(ctx context.Context, req Request) (*Result, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, faults.New(faults.KindTimeout, "score_session", fmt.Errorf("rate limiter: %w", err))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal scoring request: %w", err)
	}
	return withRetry(ctx, h.retry, h.sleep, h.logger, "score_session", func(ctx context.Context) (*Result, error) {
		return h.doRequest(ctx, body)
	})
}

func (h *HTTPScorer) doRequest(ctx context.Context, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create scoring request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, faults.Classify("score_session", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.Classify("score_session", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, faults.Upstream("score_session", resp.StatusCode, fmt.Errorf("%s", truncate(raw, 256)))
	}

	var out Result
	if err := decodeModelJSON(string(raw), &out); err != nil {
		return nil, faults.New(faults.KindParseFailure, "score_session", err)
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Scorer = (*HTTPScorer)(nil)
