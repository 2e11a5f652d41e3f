package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "dealcoach")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
grading:
  commission_rate: 0.2
  deep_analysis_timeout: 90s
scoring:
  provider: http
  endpoint: http://scorer.local/score
analyzer:
  monologue_limit: 50s
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.InDelta(t, 0.2, cfg.Grading.CommissionRate, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Grading.DeepAnalysisTimeout.Duration())
	assert.Equal(t, "http", cfg.Scoring.Provider)
	assert.Equal(t, 50*time.Second, cfg.Analyzer.MonologueLimit.Duration())
	// untouched sections still get defaults
	assert.Equal(t, 50, cfg.Analyzer.FeedCapacity)
	assert.Equal(t, 3, cfg.Observer.MaxRetries)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
observability:
  service_name: yaml-service
`, 0600)

	t.Setenv("SERVER_HTTP_PORT", "7777")
	t.Setenv("OBSERVABILITY_SERVICE_NAME", "env-service")
	t.Setenv("GRADING_TRANSCRIPT_WAIT_ATTEMPTS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-service", cfg.Observability.ServiceName)
	assert.Equal(t, 8, cfg.Grading.TranscriptWaitAttempts)
}

func TestLoad_SecretFromEnv(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")

	t.Setenv("SCORING_PROVIDER", "openai")
	t.Setenv("SCORING_API_KEY", "sk-test-123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.Scoring.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Scoring.APIKey.String())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "instant", cfg.Scoring.Provider)
	assert.Equal(t, "inprocess", cfg.Grading.Dispatcher)
	assert.Equal(t, 500*time.Millisecond, cfg.Observer.InitialInterval.Duration())
	assert.Equal(t, 3*time.Minute, cfg.Observer.Deadline.Duration())
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: [\n", 0600)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 99999\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_PathTraversal(t *testing.T) {
	setupTestHome(t)

	for _, path := range []string{"../../../../etc/passwd", "/tmp/config.yaml"} {
		t.Run(path, func(t *testing.T) {
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be in ~/.config/dealcoach/")
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"sqlite needs path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "unknown storage driver"},
		{"http scorer needs endpoint", func(c *Config) { c.Scoring.Provider = "http" }, "scoring.endpoint"},
		{"openai needs key", func(c *Config) { c.Scoring.Provider = "openai" }, "scoring.api_key"},
		{"nats needs url", func(c *Config) { c.NATS.Enabled = true }, "nats.url"},
		{"temporal needs host", func(c *Config) { c.Grading.Dispatcher = "temporal" }, "temporal.host_port"},
		{"commission out of range", func(c *Config) { c.Grading.CommissionRate = 1.5 }, "commission_rate"},
		{"windows inverted", func(c *Config) { c.Analyzer.EarlyWindow = c.Analyzer.LateWindow }, "early_window"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrintsValue(t *testing.T) {
	s := Secret("sk-live")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
	assert.Equal(t, "", Secret("").String())
}
