package transport

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/chatrelay/pkg/chat"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to server error responses. The server continues to
// accept new requests after a panic is recovered.
//
// http.ErrAbortHandler is re-raised so that net/http aborts the connection;
// streaming handlers use it to signal a failed stream to the client.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w}
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				logger.ErrorContext(r.Context(), "handler panic",
					"request_id", RequestIDFromContext(r.Context()),
					"panic", fmt.Sprint(p),
				)
				// Too late for an error body once the response has started.
				if rec.written {
					panic(http.ErrAbortHandler)
				}
				WriteAPIError(w, chat.NewServerError(fmt.Sprintf("internal server error: %v", p)))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
