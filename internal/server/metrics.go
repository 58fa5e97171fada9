package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/config"
	"github.com/floodgate/floodgate/internal/observability"
)

// metricsProxyClient is replaced in tests.
var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

// hopByHopHeaders are not forwarded from the exporter response.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

const prometheusContentType = "text/plain; version=0.0.4"

// exporterURL points at the local exporter. The bound port wins over config
// so an ephemeral port (metrics.port: 0) still resolves.
func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = 9090
		if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port != 0 {
			port = cfg.Metrics.Port
		}
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

// MetricsHandler serves the exporter's scrape output on the main listener.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics exporter not initialized"))
		return
	}

	target := exporterURL()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		HandleError(w, r, proxyError("INTERNAL_ERROR", "Unable to construct metrics request", target, err))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		HandleError(w, r, proxyError("EXTERNAL_SERVICE_ERROR", "Prometheus exporter unavailable", target, err))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logMetricsWarning("Failed to close metrics response body", err)
		}
	}()

	copyEndToEndHeaders(w.Header(), resp.Header)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", prometheusContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logMetricsWarning("Failed to write metrics response", err)
	}
}

func copyEndToEndHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func proxyError(code, message, target string, cause error) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	if withCtx, err := envelope.WithContext(map[string]interface{}{
		"metrics_url":    target,
		"original_error": cause.Error(),
	}); err == nil {
		envelope = withCtx
	}
	return envelope
}

func logMetricsWarning(msg string, err error) {
	if logger := observability.ServerLogger; logger != nil {
		logger.Warn(msg, zap.Error(err))
	}
}
