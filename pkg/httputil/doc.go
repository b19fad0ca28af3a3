// Package httputil provides the HTTP helpers used by the daemon's probe and
// debug endpoints.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, summaries)
//	httputil.WriteNotFound(w, r, "unknown tenant")
//
// Error bodies are {"error": "...", "request_id": "..."}; the id comes from
// RequestIDMiddleware.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(log),
//		httputil.LoggingMiddleware(log),
//	)(router)
//
// With gorilla/mux the same functions can be passed to Router.Use.
package httputil
