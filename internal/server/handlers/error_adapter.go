package handlers

import (
	"net/http"

	apperrors "github.com/floodgate/floodgate/internal/errors"
)

// ErrorResponder writes an error as an HTTP response.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var errorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder installs the server's error writer. nil restores the
// default.
func SetHTTPErrorResponder(responder ErrorResponder) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	errorResponder = responder
}

// ResetHTTPErrorResponder restores the default error writer.
func ResetHTTPErrorResponder() {
	SetHTTPErrorResponder(nil)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponder(w, r, err)
}

// respondWithDomainError maps flood and redirect errors to envelopes first.
func respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponder(w, r, apperrors.FromDomain(r.Context(), err))
}
