// Package auth provides token authentication for the targetd API.
//
// Clients present an HS256 JWT access token in the Authorization header.
// WebSocket upgrades carry a single-use ticket obtained with that token.
// Tokens carry a subject and a role; roles map statically to permissions:
//   - viewer: read devices, targets and run configurations
//   - operator: viewer plus changing selections and launching targets
//   - admin: operator plus managing run configurations and reading the audit log
//
// Tokens are issued offline with "targetd token" and validated by signature
// only. There is no user store.
package auth
