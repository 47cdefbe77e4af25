// Package services defines the shared error taxonomy consumed across the
// pipeline.
//
// Structured error markers plus the Wrap helper keep failure classification
// uniform: transient summarizer failures are retried, permanent ones move an
// item to failed, and validation/configuration problems surface before any
// work starts. Use these helpers when wiring new components so retry and
// failure handling stay consistent.
package services
