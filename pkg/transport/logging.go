package transport

import (
	"log/slog"
	"net/http"
	"time"
)

// Logging returns middleware that emits one structured log entry per
// request with method, path, status, bytes written, duration and request
// ID. Requests that end in a panic (including aborted streams) are logged
// as aborted.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			completed := false

			defer func() {
				attrs := []slog.Attr{
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", rec.status),
					slog.Int64("bytes", rec.bytes),
					slog.Duration("duration", time.Since(start)),
				}

				switch {
				case !completed:
					logger.LogAttrs(r.Context(), slog.LevelWarn, "request aborted", attrs...)
				case rec.status >= http.StatusInternalServerError:
					logger.LogAttrs(r.Context(), slog.LevelError, "request failed", attrs...)
				default:
					logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
				}
			}()

			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}
