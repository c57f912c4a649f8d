package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Recovery turns a handler panic into a 500 with a generic error body. The
// panic value and stack are logged, never sent to the client.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logging.Component(logger, "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic in handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				faults.WriteHTTP(w, errors.New("panic in handler"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
