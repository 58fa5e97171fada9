package metrics

import (
	"time"

	"github.com/floodgate/floodgate/internal/observability"
)

// Flood control metric names.
const (
	FloodRegisterTotal = "flood_register_total"
	FloodCheckTotal    = "flood_check_total"
	FloodClearTotal    = "flood_clear_total"
	FloodGCRemoved     = "flood_gc_removed_total"
	FloodGCDuration    = "flood_gc_duration_ms"
	FloodBackendErrors = "flood_backend_errors_total"
)

// Redirect metric names.
const (
	RedirectLookupTotal    = "redirect_lookup_total"
	RedirectLookupDuration = "redirect_lookup_duration_ms"
	RedirectLoopsTotal     = "redirect_loops_total"
)

// Health and lifecycle metric names.
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
)

// RecordFloodRegister counts a registered flood event.
func RecordFloodRegister(event string) {
	count(FloodRegisterTotal, map[string]string{"event": event})
}

// RecordFloodCheck counts an allow check and its outcome.
func RecordFloodCheck(event string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "blocked"
	}
	count(FloodCheckTotal, map[string]string{"event": event, "decision": decision})
}

// RecordFloodClear counts clear operations; scope is "identifier" or "prefix".
func RecordFloodClear(event string, scope string) {
	count(FloodClearTotal, map[string]string{"event": event, "scope": scope})
}

// RecordFloodGC records one garbage collection pass.
func RecordFloodGC(removed int64, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(FloodGCRemoved, float64(removed), nil)
	_ = sys.Histogram(FloodGCDuration, duration, nil)
}

// RecordFloodBackendError counts backend failures that were surfaced.
func RecordFloodBackendError(backend string, operation string) {
	count(FloodBackendErrors, map[string]string{"backend": backend, "operation": operation})
}

// RecordRedirectLookup records a redirect lookup; result is one of
// "hit", "miss", "loop" or "error".
func RecordRedirectLookup(result string, duration time.Duration) {
	labels := map[string]string{"result": result}
	count(RedirectLookupTotal, labels)
	observe(RedirectLookupDuration, duration, labels)
	if result == "loop" {
		count(RedirectLoopsTotal, nil)
	}
}

// RecordHealthCheck records one dependency check run by the health manager.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	count(HealthCheckTotal, map[string]string{"check": checkName, "status": status})
	observe(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime records the server start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp), nil)
}

func observe(name string, d time.Duration, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, labels)
	}
}
