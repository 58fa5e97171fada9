package server

import (
	"net/http"

	apperrors "github.com/floodgate/floodgate/internal/errors"
)

// HandleError is the single error writer for routes and handlers.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
