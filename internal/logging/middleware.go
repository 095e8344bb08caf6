package logging

import "net/http"

// NewLoggerMiddleware stores logger in each request context, so handlers can
// call FromContext(r.Context()) and get records tagged with the request ID.
// It must run inside the request ID boundary.
func NewLoggerMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLogger(r.Context(), logger)
			logger.WithContext(ctx).Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
