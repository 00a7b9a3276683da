package log

import (
	"net/http"
	"time"
)

// Middleware returns an HTTP middleware that emits one structured line
// per completed request. Probe endpoints log at debug so a watchdog
// polling readiness does not flood the log.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lw, r)

			logger := WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			switch {
			case lw.status >= 500:
				evt = logger.Error()
			case lw.status >= 400:
				evt = logger.Warn()
			case r.URL.Path == "/healthz" || r.URL.Path == "/readyz":
				evt = logger.Debug()
			}
			evt.
				Str(FieldEvent, "http.request").
				Str("method", r.Method).
				Str(FieldPath, r.URL.Path).
				Int("status", lw.status).
				Int64("bytes", lw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request completed")
		})
	}
}

// loggingWriter captures the response status and size.
type loggingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
	wrote  bool
}

func (lw *loggingWriter) WriteHeader(status int) {
	if !lw.wrote {
		lw.status = status
		lw.wrote = true
	}
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if !lw.wrote {
		lw.WriteHeader(http.StatusOK)
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.bytes += int64(n)
	return n, err
}
