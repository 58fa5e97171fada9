package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/engine"
	"github.com/floodgate/floodgate/internal/core/flood"
	apperrors "github.com/floodgate/floodgate/internal/errors"
)

// FloodHandler exposes the flood limiter over HTTP.
type FloodHandler struct {
	limiter *engine.Limiter
}

// NewFloodHandler wraps limiter.
func NewFloodHandler(limiter *engine.Limiter) *FloodHandler {
	return &FloodHandler{limiter: limiter}
}

// FloodRecordRequest is the body accepted by Record. With Check set the event
// is only recorded when the identifier is still under its threshold.
type FloodRecordRequest struct {
	Identifier string `json:"identifier"`
	Check      bool   `json:"check"`
}

// FloodRecordResponse reports a recorded event.
type FloodRecordResponse struct {
	Event      string              `json:"event"`
	Identifier string              `json:"identifier"`
	Recorded   bool                `json:"recorded"`
	Decision   *core.FloodDecision `json:"decision,omitempty"`
}

// Routes mounts the flood endpoints on r.
func (h *FloodHandler) Routes(r chi.Router) {
	r.Get("/{event}", h.Check)
	r.Post("/{event}", h.Record)
	r.Delete("/{event}", h.Clear)
}

// Check answers whether the identifier may perform the event now.
func (h *FloodHandler) Check(w http.ResponseWriter, r *http.Request) {
	event, ok := h.event(w, r)
	if !ok {
		return
	}

	decision, err := h.limiter.Check(r.Context(), event, r.URL.Query().Get("identifier"))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Record registers one occurrence of the event.
func (h *FloodHandler) Record(w http.ResponseWriter, r *http.Request) {
	event, ok := h.event(w, r)
	if !ok {
		return
	}

	var body FloodRecordRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, r, err)
		return
	}
	identifier := strings.TrimSpace(body.Identifier)

	response := FloodRecordResponse{Event: event, Identifier: identifier}
	if response.Identifier == "" {
		response.Identifier = flood.ClientIP(r.Context())
	}

	if body.Check {
		decision, err := h.limiter.Attempt(r.Context(), event, identifier)
		if err != nil {
			respondWithDomainError(w, r, err)
			return
		}
		if !decision.Allowed {
			envelope := apperrors.NewRateLimitedError("flood threshold reached for " + event)
			envelope = envelope.WithDetails(map[string]interface{}{
				"event":          decision.Event,
				"threshold":      decision.Threshold,
				"window_seconds": decision.WindowSeconds,
			})
			respondWithError(w, r, envelope)
			return
		}
		response.Decision = &decision
	} else if err := h.limiter.Record(r.Context(), event, identifier); err != nil {
		respondWithDomainError(w, r, err)
		return
	}

	response.Recorded = true
	writeJSON(w, http.StatusCreated, response)
}

// Clear removes events for ?identifier= or every identifier starting with ?prefix=.
func (h *FloodHandler) Clear(w http.ResponseWriter, r *http.Request) {
	event, ok := h.event(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	identifier := query.Get("identifier")
	prefix := query.Get("prefix")

	var err error
	switch {
	case identifier != "" && prefix != "":
		respondWithError(w, r, apperrors.NewInvalidInputError("identifier and prefix are mutually exclusive"))
		return
	case prefix != "":
		err = h.limiter.ResetPrefix(r.Context(), event, prefix)
	case identifier != "":
		err = h.limiter.Reset(r.Context(), event, identifier)
	default:
		respondWithError(w, r, apperrors.NewInvalidInputError("identifier or prefix is required"))
		return
	}
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FloodHandler) event(w http.ResponseWriter, r *http.Request) (string, bool) {
	event := strings.TrimSpace(chi.URLParam(r, "event"))
	if event == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("event name is required"))
		return "", false
	}
	return event, true
}
