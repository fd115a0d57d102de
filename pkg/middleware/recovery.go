package middleware

import (
	apperrors "medislot/pkg/errors"
	"medislot/pkg/logger"
	"net/http"
	"runtime/debug"
)

// Recovery turns a handler panic into a 500 in the API error format. When the
// response had already started the connection is aborted instead, so a
// half-written booking or payment response is never read as complete.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				// RequestLogging runs inside Recovery and leaves the id on the response.
				log.Error("Handler panicked",
					"request_id", w.Header().Get(RequestIDHeader),
					"panic", p,
					"method", r.Method,
					"path", r.URL.Path,
					"response_started", rw.written,
					"stack", string(debug.Stack()),
				)
				if rw.written {
					panic(http.ErrAbortHandler)
				}
				writeAppError(w, apperrors.Internal("An unexpected error occurred", nil))
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
