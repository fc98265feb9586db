package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/metrics"
)

// requestLogger logs one line per request. The level follows the status:
// info below 400, warn for 4xx, error for 5xx.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := metrics.NewStatusRecorder(w)

			next.ServeHTTP(rw, r)

			fields := logging.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}
			switch {
			case rw.Status >= 500:
				logger.Error(r.Context(), "HTTP request", nil, fields)
			case rw.Status >= 400:
				logger.Warn(r.Context(), "HTTP request", fields)
			default:
				logger.Debug(r.Context(), "HTTP request", fields)
			}
		})
	}
}

// recoverer turns a handler panic into a 500 instead of a dropped connection
func recoverer(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error(r.Context(), "handler panicked", fmt.Errorf("%v", rec), logging.Fields{
						"path": r.URL.Path,
					})
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// cors answers preflight requests and allows the configured origins.
// Extension pages send their own scheme, e.g. chrome-extension://<id>.
func cors(allowed []string) func(http.Handler) http.Handler {
	allowAny := false
	exact := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAny = true
		}
		exact[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAny || exact[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
