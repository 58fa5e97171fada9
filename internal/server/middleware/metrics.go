package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/metrics"
	"github.com/floodgate/floodgate/internal/observability"
)

// endpointBuckets group requests that never reached a chi route, such as
// front-controller redirects and 404s. First match wins.
var endpointBuckets = []struct {
	prefix string
	bucket string
}{
	{"/health", "/health/*"},
	{"/api/v1/flood", "/api/v1/flood/*"},
	{"/api/v1/redirects", "/api/v1/redirects/*"},
	{"/api/", "/api/*"},
}

// endpointLabel returns a bounded-cardinality label for r.
func endpointLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch path {
	case "/", "/version", "/metrics":
		return path
	}
	for _, b := range endpointBuckets {
		if strings.HasPrefix(path, b.prefix) {
			return b.bucket
		}
	}
	return "/unknown"
}

// RequestMetrics records HTTP metrics and an access log line per request.
// It is a pass-through when telemetry is disabled.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		completed := metrics.HTTPRequest{
			Method:       r.Method,
			Endpoint:     endpointLabel(r),
			Status:       status,
			RequestSize:  requestSize,
			ResponseSize: int64(ww.BytesWritten()),
			Duration:     time.Since(start),
		}
		metrics.RecordHTTPRequest(completed)

		if logger := observability.ServerLogger; logger != nil {
			logger.Info("HTTP request completed",
				zap.String("client_ip", remoteHost(r.RemoteAddr)),
				zap.String("method", completed.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", completed.Endpoint),
				zap.Int("status", completed.Status),
				zap.Duration("duration", completed.Duration),
				zap.Int64("request_size", completed.RequestSize),
				zap.Int64("response_size", completed.ResponseSize),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		}
	})
}
