// Package api implements the HTTP REST API and WebSocket server for targetd.
//
// This package provides:
//   - REST endpoints for the device list, selected targets, selection changes,
//     run configurations and launching
//   - WebSocket hub for target and device change broadcasts
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//   - TLS support
//
// # Security
//
// When security.jwt.secret is empty, authentication is disabled and every
// request acts with the admin role. Otherwise protected routes require an
// access token issued by "targetd token". WebSocket connections use
// single-use tickets so tokens never appear in URLs.
//
// # Graceful Degradation
//
// Selection and read endpoints answer 503 until the first reconciliation has
// completed. Launch failures are reported per target and never retried.
package api
