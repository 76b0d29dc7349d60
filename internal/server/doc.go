// Package server provides the HTTP server for metrics exposition and the
// status API.
//
// It handles all HTTP concerns:
//
//   - Metrics: Prometheus text exposition at "/metrics"
//   - REST API: JSON endpoint at "/api/status" for the latest poll per endpoint
//   - Landing page at "/"
//
// HTTPS is used when both a certificate and a key file are configured. The
// server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the opcuaexporter library should not need to interact with this
// package directly. The server is started by [opcuaexporter.Exporter.Start].
package server
