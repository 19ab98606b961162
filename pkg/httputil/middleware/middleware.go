// Package middleware wraps the operational HTTP endpoints (metrics and
// health) with request ids and access logging.
package middleware

import "net/http"

type Middleware func(http.Handler) http.Handler

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LoggerCtxKey    ContextKey = "Logger"
)

// Chain applies one or more middleware functions to a handler in the order they were provided.
// The first middleware in the list will be the outermost wrapper (executed first).
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
