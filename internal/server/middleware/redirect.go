package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/redirect"
	"github.com/floodgate/floodgate/internal/observability"
)

// RedirectResolver resolves a request path to its terminal redirect.
type RedirectResolver interface {
	Resolve(ctx context.Context, path string, query url.Values, language string) (*redirect.Resolution, error)
}

// Redirects answers GET and HEAD requests that match a stored redirect before
// they reach the router. Paths under an ignored prefix always pass through.
// A redirect loop is logged and the request is served as if nothing matched.
func Redirects(resolver RedirectResolver, ignorePrefixes []string) func(http.Handler) http.Handler {
	prefixes := make([]string, 0, len(ignorePrefixes))
	for _, prefix := range ignorePrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			prefixes = append(prefixes, "/"+strings.Trim(prefix, "/"))
		}
	}

	return func(next http.Handler) http.Handler {
		if resolver == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if ignoredPath(r.URL.Path, prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			resolution, err := resolver.Resolve(r.Context(), r.URL.Path, r.URL.Query(), RequestLanguage(r))
			if err != nil {
				logRedirectFailure(r, err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Cache-Control", "no-cache")
			http.Redirect(w, r, resolution.Location, resolution.StatusCode)
		})
	}
}

func ignoredPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// RequestLanguage returns the primary subtag of the first Accept-Language
// entry, or "und" when the header is absent or a wildcard.
func RequestLanguage(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return core.LanguageNotSpecified
	}
	first := strings.TrimSpace(strings.SplitN(header, ",", 2)[0])
	first = strings.TrimSpace(strings.SplitN(first, ";", 2)[0])
	first = strings.ToLower(strings.SplitN(first, "-", 2)[0])
	if first == "" || first == "*" {
		return core.LanguageNotSpecified
	}
	return first
}

func logRedirectFailure(r *http.Request, err error) {
	if errors.Is(err, redirect.ErrNotFound) {
		return
	}
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	var loop *redirect.LoopError
	if errors.As(err, &loop) {
		logger.Warn("Redirect loop identified",
			zap.String("path", loop.Path),
			zap.Int64("rid", loop.ID),
			zap.String("request_id", GetRequestID(r.Context())))
		return
	}
	logger.Error("Redirect lookup failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
		zap.String("request_id", GetRequestID(r.Context())))
}
