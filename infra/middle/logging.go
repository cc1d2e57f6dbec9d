package middle

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paymux/paymux/infra/logger"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
	startTime  time.Time
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		startTime:      time.Now(),
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// RequestIDMiddleware assigns every request a request ID, echoes it in the
// X-Request-ID response header and stores it in the context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			w.Header().Set("X-Request-ID", requestID)
			ctx := SetRequestIDInContext(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLoggingMiddleware logs each request with its status, latency and
// tenant. Probe endpoints are skipped to keep the log readable.
func RequestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isQuietEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			duration := time.Since(rw.startTime)
			logCtx := logger.LogContext{
				TenantID:  GetTenantIDFromContext(r.Context()),
				RequestID: GetRequestIDFromContext(r.Context()),
				Fields: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      rw.statusCode,
					"duration_ms": duration.Milliseconds(),
					"bytes":       rw.written,
					"client_ip":   GetClientIP(r),
				},
			}

			message := fmt.Sprintf("%s %s -> %d", r.Method, r.URL.Path, rw.statusCode)
			switch {
			case rw.statusCode >= 500:
				logger.Error(message, nil, logCtx)
			case rw.statusCode >= 400:
				logger.Warn(message, logCtx)
			default:
				logger.Info(message, logCtx)
			}
		})
	}
}

// isQuietEndpoint reports whether a path is polled by infrastructure and
// should not be request-logged.
func isQuietEndpoint(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/health/")
}
