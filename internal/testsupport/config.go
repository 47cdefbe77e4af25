package testsupport

import (
	"path/filepath"
	"testing"

	"digest/internal/config"
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
	cfg.Paths.CheckpointDir = filepath.Join(base, "checkpoints")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.QueuePollInterval = 1
	cfg.Summarizer.RetryBackoffSeconds = 0.001

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithMaxRetries sets the summarizer retry budget on the test config.
func WithMaxRetries(attempts int) ConfigOption {
	return func(c *config.Config) {
		c.Summarizer.MaxRetries = attempts
	}
}

// WithPendingTimeout sets the pending-item timeout in seconds.
func WithPendingTimeout(seconds int) ConfigOption {
	return func(c *config.Config) {
		c.Workflow.PendingTimeout = seconds
	}
}
