// Package transport holds the HTTP plumbing shared by the relay's handlers:
// the Generator contract, middleware (panic recovery, request IDs,
// structured access logging) and the JSON error envelope.
//
// Middleware is plain func(http.Handler) http.Handler so it composes with
// net/http and with observability.MetricsMiddleware. Every wrapper keeps
// http.Flusher working and exposes Unwrap for http.ResponseController,
// which streaming handlers depend on.
package transport
