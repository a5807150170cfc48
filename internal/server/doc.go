// Package server is the MailMinder HTTP API built on gin.
//
// # Routes
//
// Google sign-in lives under /auth: /auth/login redirects to the consent
// screen, /auth/callback exchanges the code, stores the user and their
// credential and sets a signed session cookie, and /auth/logout drops it.
//
// The JSON API lives under /api. POST /api/ingest (alias /api/fetch-emails)
// runs one sender ingestion; the sender routes manage the tracked senders and
// list their stored emails. Every /api route reads the session cookie or an
// Authorization bearer token.
//
// Errors are returned as {"error": ..., "details": ...} with the status chosen
// by errorResponse.
//
// # Probes and metrics
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed on the API
// listener; readiness pings the database. MetricsServer exposes the
// Prometheus registry on its own port.
package server
