// Package logging wraps log/slog with the console and JSON handlers used by
// the pipeline, standardized attribute keys, and helpers for deriving logger
// fields from context annotations.
package logging
