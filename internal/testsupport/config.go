package testsupport

import (
	"path/filepath"
	"testing"

	"reel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.SegmentDir = filepath.Join(base, "segments")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Remote.BaseURL = "http://127.0.0.1:0/api/v1"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithRemoteBaseURL points the test config at a (usually httptest) server.
func WithRemoteBaseURL(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Remote.BaseURL = baseURL
	}
}

// WithMaxRetries overrides the delivery retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxRetries = n
	}
}

// WithPollBudget overrides the status poll interval and attempt budget.
func WithPollBudget(intervalSeconds, maxAttempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Poller.IntervalSeconds = intervalSeconds
		cfg.Poller.MaxAttempts = maxAttempts
	}
}
