// Package cmd implements the command-line interface for mailminder.
//
// This package provides the following commands:
//   - serve: Run the HTTP API and the metrics server
//   - migrate: Apply database migrations
//   - ingest: Run one sender ingestion with a stored credential
//   - version: Display version information
package cmd
