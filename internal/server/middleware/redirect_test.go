package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodgate/floodgate/internal/core/flood"
	"github.com/floodgate/floodgate/internal/core/redirect"
)

type stubResolver struct {
	resolution *redirect.Resolution
	err        error

	calls    int
	path     string
	query    url.Values
	language string
}

func (s *stubResolver) Resolve(ctx context.Context, path string, query url.Values, language string) (*redirect.Resolution, error) {
	s.calls++
	s.path = path
	s.query = query
	s.language = language
	return s.resolution, s.err
}

func servedByRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestRedirects_Hit(t *testing.T) {
	resolver := &stubResolver{resolution: &redirect.Resolution{Location: "/new?page=2", StatusCode: http.StatusFound}}
	handler := Redirects(resolver, []string{"/api"})(servedByRouter())

	req := httptest.NewRequest(http.MethodGet, "/old?page=2", nil)
	req.Header.Set("Accept-Language", "de-CH, en;q=0.8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/new?page=2", rec.Header().Get("Location"))
	assert.Equal(t, "/old", resolver.path)
	assert.Equal(t, "2", resolver.query.Get("page"))
	assert.Equal(t, "de", resolver.language)
}

func TestRedirects_PassThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		err    error
	}{
		{"miss", http.MethodGet, "/nothing", redirect.ErrNotFound},
		{"loop", http.MethodGet, "/a", &redirect.LoopError{Path: "/a", ID: 1}},
		{"store failure", http.MethodGet, "/a", errors.New("db down")},
		{"post", http.MethodPost, "/old", nil},
		{"ignored prefix", http.MethodGet, "/api/v1/flood/contact", nil},
		{"ignored exact", http.MethodGet, "/api", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &stubResolver{err: tt.err}
			if tt.err == nil {
				resolver.resolution = &redirect.Resolution{Location: "/x", StatusCode: http.StatusMovedPermanently}
			}
			handler := Redirects(resolver, []string{"api/", " "})(servedByRouter())

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusTeapot, rec.Code)
			assert.Empty(t, rec.Header().Get("Location"))
		})
	}
}

func TestRedirects_PrefixNeedsSegmentBoundary(t *testing.T) {
	resolver := &stubResolver{resolution: &redirect.Resolution{Location: "/b", StatusCode: http.StatusMovedPermanently}}
	handler := Redirects(resolver, []string{"/api"})(servedByRouter())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apiary", nil))

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, 1, resolver.calls)
}

func TestRedirects_NilResolver(t *testing.T) {
	handler := Redirects(nil, nil)(servedByRouter())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/old", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestLanguage(t *testing.T) {
	tests := map[string]string{
		"":                "und",
		"*":               "und",
		"fr":              "fr",
		"PT-BR,pt;q=0.9":  "pt",
		" en-US ; q=1.0 ": "en",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Accept-Language", header)
		}
		assert.Equal(t, want, RequestLanguage(req), header)
	}
}

func TestClientIP(t *testing.T) {
	var seen string
	handler := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = flood.ClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5123"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "203.0.113.9", seen)

	req.RemoteAddr = "[2001:db8::1]:443"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "2001:db8::1", seen)

	req.RemoteAddr = "198.51.100.7"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "198.51.100.7", seen)
}
