package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/redirect"
	"github.com/floodgate/floodgate/internal/core/store"
	apperrors "github.com/floodgate/floodgate/internal/errors"
)

const defaultRedirectListLimit = 50

// RedirectHandler serves redirect resolution and administration.
type RedirectHandler struct {
	repo *redirect.Repository
}

// NewRedirectHandler wraps repo.
func NewRedirectHandler(repo *redirect.Repository) *RedirectHandler {
	return &RedirectHandler{repo: repo}
}

// RedirectRequest is the body accepted by Create. Source may carry a query
// string ("old?page=2"); Enabled defaults to true when omitted.
type RedirectRequest struct {
	Source      string         `json:"source"`
	Query       map[string]any `json:"query,omitempty"`
	Language    string         `json:"language,omitempty"`
	Destination string         `json:"destination"`
	StatusCode  int            `json:"status_code,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
}

// RedirectListResponse wraps a page of redirects.
type RedirectListResponse struct {
	Redirects []core.Redirect `json:"redirects"`
	Count     int             `json:"count"`
}

// Routes mounts the redirect endpoints on r.
func (h *RedirectHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/resolve", h.Resolve)
	r.Get("/{rid}", h.Get)
	r.Delete("/{rid}", h.Delete)
}

// Resolve follows the redirect chain for ?path= in language ?lang=.
func (h *RedirectHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	raw := strings.TrimSpace(params.Get("path"))
	if raw == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("path is required"))
		return
	}

	path, query, err := redirect.SplitRequestPath(raw)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "path has an invalid query string"))
		return
	}

	language := strings.TrimSpace(params.Get("lang"))
	if language == "" {
		language = core.LanguageNotSpecified
	}

	resolution, err := h.repo.Resolve(r.Context(), path, query, language)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// List returns redirects whose source starts with ?prefix=.
func (h *RedirectHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := store.RedirectQuery{
		Prefix: strings.Trim(params.Get("prefix"), "/"),
		Limit:  defaultRedirectListLimit,
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		q.Limit = limit
	}

	redirects, err := h.repo.List(r.Context(), q)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	if redirects == nil {
		redirects = []core.Redirect{}
	}
	writeJSON(w, http.StatusOK, RedirectListResponse{Redirects: redirects, Count: len(redirects)})
}

// Create stores a new redirect.
func (h *RedirectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body RedirectRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, r, err)
		return
	}

	entry := &core.Redirect{
		SourcePath:  body.Source,
		SourceQuery: body.Query,
		Language:    body.Language,
		Destination: body.Destination,
		StatusCode:  body.StatusCode,
		Enabled:     body.Enabled == nil || *body.Enabled,
	}
	if err := h.repo.Save(r.Context(), entry); err != nil {
		respondWithDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/redirects/"+strconv.FormatInt(entry.ID, 10))
	writeJSON(w, http.StatusCreated, entry)
}

// Get returns a single redirect.
func (h *RedirectHandler) Get(w http.ResponseWriter, r *http.Request) {
	rid, ok := redirectID(w, r)
	if !ok {
		return
	}
	entry, err := h.repo.Load(r.Context(), rid)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Delete removes a redirect.
func (h *RedirectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rid, ok := redirectID(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), rid); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func redirectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	rid, err := strconv.ParseInt(chi.URLParam(r, "rid"), 10, 64)
	if err != nil || rid <= 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("rid must be a positive integer"))
		return 0, false
	}
	return rid, true
}
