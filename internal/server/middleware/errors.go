package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/metrics"
	"github.com/floodgate/floodgate/internal/observability"
)

// Recovery turns a handler panic into a critical INTERNAL_ERROR envelope.
// The stack trace is logged and never written to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			metrics.RecordPanic()
			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Recovered from handler panic",
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID),
					zap.Any("panic", recovered),
					zap.ByteString("stack_trace", debug.Stack()))
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writePanicResponse(w, envelope)
		}()

		next.ServeHTTP(w, r)
	})
}

// writePanicResponse encodes the same body shape as internal/errors, which
// cannot be imported here because it depends on this package.
func writePanicResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope) {
	body := map[string]any{
		"error": map[string]any{
			"code":       envelope.Code,
			"message":    envelope.Message,
			"request_id": envelope.CorrelationID,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(body)
}
