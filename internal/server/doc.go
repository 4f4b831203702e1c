// Package server exposes callslot over HTTP.
//
// # Routes
//
// Public, rate limited per client:
//   - POST /users/{username}/schedule books a one-hour slot
//   - GET /users/{username}/availability?date=YYYY-MM-DD lists possible and free hours
//   - POST /users claims a username and starts a session
//
// Session protected:
//   - GET and POST /users/time-intervals read and replace weekly availability
//   - GET /auth/google starts the Google Calendar consent flow
//   - GET /auth/google/callback stores the granted account
//
// Ops: /healthz, /readyz and /healthz/detailed. Prometheus metrics are
// served by MetricsServer on a separate listener.
//
// Sessions are HS256 signed cookies. The OAuth state parameter is a
// short-lived token signed with the same key and bound to the session user.
//
// Rate limiting uses an in-process token bucket, or a fixed window in
// Redis when several instances share the load. Limiter failures let
// requests through.
package server
