// Package notifications delivers batch lifecycle events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled, so callers never need nil checks. All pipeline code depends only
// on the simple Service interface; extend this package for alternative
// transports.
package notifications
