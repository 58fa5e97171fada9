package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/store"
	"github.com/floodgate/floodgate/internal/metrics"
)

// Store is the persistence surface the repository needs.
type Store interface {
	SaveRedirect(ctx context.Context, redirect *core.Redirect) error
	GetRedirect(ctx context.Context, rid int64) (*core.Redirect, error)
	GetRedirectByHash(ctx context.Context, hash string) (*core.Redirect, error)
	FindRedirectsByHashes(ctx context.Context, hashes []string) ([]core.Redirect, error)
	DeleteRedirect(ctx context.Context, rid int64) (bool, error)
	ListRedirects(ctx context.Context, q store.RedirectQuery) ([]core.Redirect, error)
}

// Options tunes matching and persistence.
type Options struct {
	// PassthroughQuerystring lets a redirect stored without a query match
	// requests that carry one, and forwards the request query to the target.
	PassthroughQuerystring bool
	DefaultStatusCode      int
	Clock                  func() time.Time
}

// Resolution is the outcome of following a redirect chain.
type Resolution struct {
	// Redirect is the terminal redirect whose destination is served.
	Redirect *core.Redirect `json:"redirect"`
	// Chain lists every redirect followed, starting with the request match.
	Chain      []core.Redirect `json:"chain"`
	Location   string          `json:"location"`
	StatusCode int             `json:"status_code"`
}

// Repository finds, follows and stores redirects.
type Repository struct {
	store Store
	opts  Options
}

// NewRepository builds a repository over s.
func NewRepository(s Store, opts Options) (*Repository, error) {
	if s == nil {
		return nil, errors.New("redirect: store is required")
	}
	if opts.DefaultStatusCode == 0 {
		opts.DefaultStatusCode = http.StatusMovedPermanently
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Repository{store: s, opts: opts}, nil
}

// resolution carries the per-call visited set; it never outlives one
// top-level lookup.
type resolution struct {
	visited map[int64]struct{}
	chain   []core.Redirect
}

// FindMatchingRedirect returns the redirect a request for path should use,
// following chains to the terminal redirect. It returns ErrNotFound on a
// miss and *LoopError when a chain revisits a redirect.
func (r *Repository) FindMatchingRedirect(ctx context.Context, path string, query map[string]any, language string) (*core.Redirect, error) {
	state := &resolution{visited: map[int64]struct{}{}}
	found, err := r.findMatching(ctx, path, query, language, state)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Resolve follows the chain for a request and renders the final Location.
func (r *Repository) Resolve(ctx context.Context, path string, query url.Values, language string) (result *Resolution, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRedirectLookup(lookupResult(result, err), time.Since(start))
	}()

	state := &resolution{visited: map[int64]struct{}{}}
	found, err := r.findMatching(ctx, path, QueryFromValues(query), language, state)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}

	dest, err := parseDestination(found.Destination)
	if err != nil {
		return nil, err
	}

	var passthrough url.Values
	if r.opts.PassthroughQuerystring {
		passthrough = query
	}

	statusCode := found.StatusCode
	if statusCode == 0 {
		statusCode = r.opts.DefaultStatusCode
	}

	return &Resolution{
		Redirect:   found,
		Chain:      state.chain,
		Location:   dest.location(passthrough),
		StatusCode: statusCode,
	}, nil
}

func lookupResult(result *Resolution, err error) string {
	var loop *LoopError
	switch {
	case errors.As(err, &loop):
		return "loop"
	case errors.Is(err, ErrNotFound):
		return "miss"
	case err != nil:
		return "error"
	case result == nil:
		return "miss"
	default:
		return "hit"
	}
}

func (r *Repository) findMatching(ctx context.Context, path string, query map[string]any, language string, state *resolution) (*core.Redirect, error) {
	path = strings.TrimLeft(path, "/")
	if language == "" {
		language = core.LanguageNotSpecified
	}

	hashes := candidateHashes(path, query, language, r.opts.PassthroughQuerystring)
	matches, err := r.store.FindRedirectsByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	found := bestMatch(matches, hashes)
	if found == nil {
		return nil, nil
	}

	if _, seen := state.visited[found.ID]; seen {
		return nil, &LoopError{Path: "/" + path, ID: found.ID}
	}
	state.visited[found.ID] = struct{}{}
	state.chain = append(state.chain, *found)

	next, err := r.findByRedirect(ctx, found, language, state)
	if err != nil {
		return nil, err
	}
	if next != nil {
		return next, nil
	}
	return found, nil
}

// bestMatch prefers the longest stored query, then the most specific
// candidate hash (the requested language over "und").
func bestMatch(matches []core.Redirect, hashes []string) *core.Redirect {
	if len(matches) == 0 {
		return nil
	}
	rank := make(map[string]int, len(hashes))
	for i, hash := range hashes {
		if _, ok := rank[hash]; !ok {
			rank[hash] = i
		}
	}

	best := 0
	bestLen := queryLength(matches[0].SourceQuery)
	for i := 1; i < len(matches); i++ {
		length := queryLength(matches[i].SourceQuery)
		if length > bestLen || (length == bestLen && rank[matches[i].Hash] < rank[matches[best].Hash]) {
			best, bestLen = i, length
		}
	}
	found := matches[best]
	return &found
}

func queryLength(query map[string]any) int {
	if len(query) == 0 {
		return 0
	}
	data, err := json.Marshal(query)
	if err != nil {
		return 0
	}
	return len(data)
}

// findByRedirect follows an internal destination into the next redirect.
func (r *Repository) findByRedirect(ctx context.Context, current *core.Redirect, language string, state *resolution) (*core.Redirect, error) {
	dest, err := parseDestination(current.Destination)
	if err != nil || !dest.internal {
		return nil, nil
	}
	return r.findMatching(ctx, dest.path, QueryFromValues(dest.query), language, state)
}

// Save validates and stores a redirect, computing its hash. A zero ID inserts.
func (r *Repository) Save(ctx context.Context, redirect *core.Redirect) error {
	if redirect == nil {
		return invalidf("redirect is required")
	}
	if err := r.prepare(redirect); err != nil {
		return err
	}

	existing, err := r.store.GetRedirectByHash(ctx, redirect.Hash)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != redirect.ID {
		return ErrDuplicate
	}

	return r.store.SaveRedirect(ctx, redirect)
}

func (r *Repository) prepare(redirect *core.Redirect) error {
	source := strings.TrimSpace(redirect.SourcePath)
	if rawPath, rawQuery, ok := strings.Cut(source, "?"); ok {
		source = rawPath
		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			return invalidf("source query %q: %v", rawQuery, err)
		}
		merged := QueryFromValues(values)
		for key, value := range redirect.SourceQuery {
			if merged == nil {
				merged = map[string]any{}
			}
			merged[key] = value
		}
		redirect.SourceQuery = merged
	}
	source = strings.TrimLeft(source, "/")
	if source == "" {
		return invalidf("source path is required")
	}
	if strings.Contains(source, "://") {
		return invalidf("source path %q must be relative", source)
	}
	redirect.SourcePath = source
	redirect.SourceQuery = NormalizeQuery(redirect.SourceQuery)

	if strings.TrimSpace(redirect.Language) == "" {
		redirect.Language = core.LanguageNotSpecified
	}

	redirect.Destination = strings.TrimSpace(redirect.Destination)
	dest, err := parseDestination(redirect.Destination)
	if err != nil {
		return err
	}
	if dest.internal && strings.EqualFold(dest.path, source) &&
		reflect.DeepEqual(NormalizeQuery(QueryFromValues(dest.query)), redirect.SourceQuery) {
		return ErrSelfRedirect
	}

	if redirect.StatusCode == 0 {
		redirect.StatusCode = r.opts.DefaultStatusCode
	}
	if !ValidStatusCode(redirect.StatusCode) {
		return invalidf("status code %d is not a redirect status", redirect.StatusCode)
	}

	if redirect.Created.IsZero() {
		redirect.Created = r.opts.Clock()
	}
	redirect.Hash = GenerateHash(redirect.SourcePath, redirect.SourceQuery, redirect.Language)
	return nil
}

// Load returns a redirect by ID.
func (r *Repository) Load(ctx context.Context, rid int64) (*core.Redirect, error) {
	found, err := r.store.GetRedirect(ctx, rid)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Delete removes a redirect by ID.
func (r *Repository) Delete(ctx context.Context, rid int64) error {
	deleted, err := r.store.DeleteRedirect(ctx, rid)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// List returns stored redirects, optionally filtered by source prefix.
func (r *Repository) List(ctx context.Context, q store.RedirectQuery) ([]core.Redirect, error) {
	return r.store.ListRedirects(ctx, q)
}

// ValidStatusCode reports whether code is a usable redirect status.
func ValidStatusCode(code int) bool {
	switch code {
	case http.StatusMultipleChoices,
		http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
