package config

const (
	defaultDataDir                  = "~/.local/share/digest"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultSummarizerBaseURL        = "https://openrouter.ai/api/v1"
	defaultSummarizerModel          = "google/gemini-3-flash-preview"
	defaultSummarizerTimeoutSeconds = 120
	defaultMaxRetries               = 3
	defaultRetryBackoffSeconds      = 1.0
	defaultQueuePollInterval        = 2
	defaultNotifyRequestTimeout     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Summarizer: Summarizer{
			BaseURL:             defaultSummarizerBaseURL,
			Model:               defaultSummarizerModel,
			TimeoutSeconds:      defaultSummarizerTimeoutSeconds,
			MaxRetries:          defaultMaxRetries,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
		},
		Workflow: Workflow{
			QueuePollInterval: defaultQueuePollInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Batch:          true,
			Errors:         true,
		},
	}
}
