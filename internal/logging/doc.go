// Package logging provides structured logging utilities for mailminder.
//
// It centralizes logging patterns so every component logs with the same
// attribute names through the standard library's slog package.
//
// # Usage Patterns
//
// Build the process logger from configuration:
//
//	logger, err := logging.New(os.Stderr, "info", "json")
//	slog.SetDefault(logger)
//
// Tag a logger with the operation it belongs to:
//
//	logger := logging.WithOperation(slog.Default(), "ingest")
//	logger.Info("ingestion finished", logging.Counts(fetched, stored)...)
//
// Never log addresses or tokens raw:
//
//	logger.Info("sender registered", logging.UserHash(addr), logging.Domain(addr))
//	logger.Debug("token resolved", "token", logging.SanitizeToken(tok))
package logging
