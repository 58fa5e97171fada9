package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodgate/floodgate/internal/core/flood"
	"github.com/floodgate/floodgate/internal/core/redirect"
	"github.com/floodgate/floodgate/internal/server/middleware"
)

func TestFromDomain(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-1")

	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"loop", fmt.Errorf("resolve: %w", &redirect.LoopError{Path: "/a", ID: 3}), CodeRedirectLoop, http.StatusLoopDetected},
		{"not found", redirect.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"duplicate", redirect.ErrDuplicate, CodeConflict, http.StatusConflict},
		{"invalid", fmt.Errorf("%w: bad", redirect.ErrInvalid), CodeValidationFailed, http.StatusBadRequest},
		{"self", redirect.ErrSelfRedirect, CodeValidationFailed, http.StatusBadRequest},
		{"identifier", flood.ErrNoIdentifier, CodeInvalidInput, http.StatusBadRequest},
		{"timeout", context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{"other", errors.New("disk full"), CodeDatabase, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := FromDomain(ctx, tc.err)
			require.NotNil(t, envelope)
			assert.Equal(t, tc.code, envelope.Code)
			assert.Equal(t, tc.status, HTTPStatusFromEnvelope(envelope))
			assert.Equal(t, "req-1", envelope.CorrelationID)
		})
	}

	assert.Nil(t, FromDomain(ctx, nil))
}

func TestFromDomainKeepsEnvelopes(t *testing.T) {
	original := NewRateLimitedError("slow down")
	assert.Same(t, original, FromDomain(context.Background(), original))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusFromEnvelope(original))
}

func TestRespondWithDomainErrorLoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/redirects/resolve?path=/a", nil)
	rec := httptest.NewRecorder()

	RespondWithDomainError(rec, req, &redirect.LoopError{Path: "/a", ID: 7})

	require.Equal(t, http.StatusLoopDetected, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeRedirectLoop, body.Error.Code)
	assert.Equal(t, "/a", body.Error.Details["path"])
	assert.EqualValues(t, 7, body.Error.Details["rid"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, env.Code)

	env = EnsureEnvelope(errors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, "boom", env.Context["wrapped_error"])
}
