// Package logging builds the slog loggers used across digest.
//
// It offers a console handler tuned for interactive runs and a JSON handler
// for machine consumption, shared attribute helpers, and the standardized
// field-name constants every component logs with. Construct loggers through
// New or NewFromConfig so output format and level stay consistent between the
// CLI and the pipeline.
package logging
