package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/store"
)

type fakeStore struct {
	mu        sync.Mutex
	redirects map[int64]core.Redirect
	nextID    int64
	lookups   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{redirects: map[int64]core.Redirect{}}
}

func (s *fakeStore) SaveRedirect(_ context.Context, redirect *core.Redirect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if redirect.ID == 0 {
		s.nextID++
		redirect.ID = s.nextID
	} else if _, ok := s.redirects[redirect.ID]; !ok {
		return fmt.Errorf("update redirect: no redirect with id %d", redirect.ID)
	}
	s.redirects[redirect.ID] = *redirect
	return nil
}

func (s *fakeStore) GetRedirect(_ context.Context, rid int64) (*core.Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.redirects[rid]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *fakeStore) GetRedirectByHash(_ context.Context, hash string) (*core.Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.redirects {
		if r.Hash == hash {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindRedirectsByHashes(_ context.Context, hashes []string) ([]core.Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	matches := []core.Redirect{}
	for _, r := range s.redirects {
		if !r.Enabled {
			continue
		}
		for _, hash := range hashes {
			if r.Hash == hash {
				matches = append(matches, r)
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		li, lj := queryLength(matches[i].SourceQuery), queryLength(matches[j].SourceQuery)
		if li != lj {
			return li > lj
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

func (s *fakeStore) DeleteRedirect(_ context.Context, rid int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.redirects[rid]; !ok {
		return false, nil
	}
	delete(s.redirects, rid)
	return true, nil
}

func (s *fakeStore) ListRedirects(_ context.Context, q store.RedirectQuery) ([]core.Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Redirect{}
	for _, r := range s.redirects {
		if strings.HasPrefix(r.SourcePath, strings.TrimLeft(q.Prefix, "/")) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newRepo(t *testing.T, passthrough bool) (*Repository, *fakeStore) {
	t.Helper()
	s := newFakeStore()
	repo, err := NewRepository(s, Options{PassthroughQuerystring: passthrough})
	require.NoError(t, err)
	return repo, s
}

func add(t *testing.T, repo *Repository, source, destination string) *core.Redirect {
	t.Helper()
	r := &core.Redirect{SourcePath: source, Destination: destination, Enabled: true}
	require.NoError(t, repo.Save(context.Background(), r))
	return r
}

func TestFindMatchingRedirect_Direct(t *testing.T) {
	repo, _ := newRepo(t, true)
	saved := add(t, repo, "/old-page", "/new-page")

	found, err := repo.FindMatchingRedirect(context.Background(), "/old-page", nil, "")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)

	// Matching is case-insensitive on the path.
	found, err = repo.FindMatchingRedirect(context.Background(), "Old-Page", nil, core.LanguageNotSpecified)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
}

func TestFindMatchingRedirect_Miss(t *testing.T) {
	repo, _ := newRepo(t, true)
	add(t, repo, "a", "/b")

	_, err := repo.FindMatchingRedirect(context.Background(), "/nowhere", nil, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindMatchingRedirect_Chain(t *testing.T) {
	repo, _ := newRepo(t, true)
	add(t, repo, "a", "/b")
	add(t, repo, "b", "internal:/c")
	last := add(t, repo, "c", "https://example.com/final")

	found, err := repo.FindMatchingRedirect(context.Background(), "/a", nil, "")
	require.NoError(t, err)
	assert.Equal(t, last.ID, found.ID)

	res, err := repo.Resolve(context.Background(), "/a", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Chain, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Chain[0].SourcePath, res.Chain[1].SourcePath, res.Chain[2].SourcePath})
	assert.Equal(t, "https://example.com/final", res.Location)
	assert.Equal(t, 301, res.StatusCode)
}

func TestFindMatchingRedirect_Loop(t *testing.T) {
	repo, _ := newRepo(t, true)
	first := add(t, repo, "a", "/b")
	add(t, repo, "b", "/c")
	add(t, repo, "c", "/a")

	_, err := repo.FindMatchingRedirect(context.Background(), "/a", nil, "")
	require.Error(t, err)

	var loop *LoopError
	require.True(t, errors.As(err, &loop))
	assert.Equal(t, "/a", loop.Path)
	assert.Equal(t, first.ID, loop.ID)
	assert.Equal(t, fmt.Sprintf("redirect loop identified at /a for redirect %d", first.ID), loop.Error())
}

func TestFindMatchingRedirect_VisitedSetIsPerCall(t *testing.T) {
	repo, _ := newRepo(t, true)
	add(t, repo, "a", "/b")
	target := add(t, repo, "b", "/final")

	for i := 0; i < 3; i++ {
		found, err := repo.FindMatchingRedirect(context.Background(), "/a", nil, "")
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, target.ID, found.ID)
	}

	// A loop in one call does not poison later unrelated calls.
	add(t, repo, "x", "/y")
	add(t, repo, "y", "/x")
	_, err := repo.FindMatchingRedirect(context.Background(), "/x", nil, "")
	var loop *LoopError
	require.ErrorAs(t, err, &loop)

	found, err := repo.FindMatchingRedirect(context.Background(), "/b", nil, "")
	require.NoError(t, err)
	assert.Equal(t, target.ID, found.ID)
}

func TestFindMatchingRedirect_ConcurrentResolutionsIndependent(t *testing.T) {
	repo, _ := newRepo(t, true)
	add(t, repo, "a", "/b")
	add(t, repo, "b", "/c")
	target := add(t, repo, "c", "/d")

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			found, err := repo.FindMatchingRedirect(context.Background(), "/a", nil, "")
			if err != nil {
				return err
			}
			if found.ID != target.ID {
				return fmt.Errorf("got redirect %d", found.ID)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestFindMatchingRedirect_Language(t *testing.T) {
	repo, _ := newRepo(t, true)
	anyLang := add(t, repo, "about", "/about-us")

	german := &core.Redirect{SourcePath: "about", Destination: "/de/ueber-uns", Language: "de", Enabled: true}
	require.NoError(t, repo.Save(context.Background(), german))

	found, err := repo.FindMatchingRedirect(context.Background(), "about", nil, "de")
	require.NoError(t, err)
	assert.Equal(t, german.ID, found.ID)

	found, err = repo.FindMatchingRedirect(context.Background(), "about", nil, "fr")
	require.NoError(t, err)
	assert.Equal(t, anyLang.ID, found.ID, "language-agnostic redirect is the fallback")
}

func TestFindMatchingRedirect_Querystring(t *testing.T) {
	ctx := context.Background()

	t.Run("passthrough matches query-less redirect", func(t *testing.T) {
		repo, _ := newRepo(t, true)
		plain := add(t, repo, "search", "/find")

		found, err := repo.FindMatchingRedirect(ctx, "search", map[string]any{"q": "go"}, "")
		require.NoError(t, err)
		assert.Equal(t, plain.ID, found.ID)
	})

	t.Run("longest stored query wins", func(t *testing.T) {
		repo, _ := newRepo(t, true)
		add(t, repo, "search", "/find")
		specific := add(t, repo, "search?q=go", "/golang")

		found, err := repo.FindMatchingRedirect(ctx, "search", map[string]any{"q": "go"}, "")
		require.NoError(t, err)
		assert.Equal(t, specific.ID, found.ID)
	})

	t.Run("without passthrough query must match exactly", func(t *testing.T) {
		repo, _ := newRepo(t, false)
		add(t, repo, "search", "/find")

		_, err := repo.FindMatchingRedirect(ctx, "search", map[string]any{"q": "go"}, "")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindMatchingRedirect_DisabledIgnored(t *testing.T) {
	repo, _ := newRepo(t, true)
	r := &core.Redirect{SourcePath: "old", Destination: "/new", Enabled: false}
	require.NoError(t, repo.Save(context.Background(), r))

	_, err := repo.FindMatchingRedirect(context.Background(), "old", nil, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_QueryPassthrough(t *testing.T) {
	repo, _ := newRepo(t, true)
	add(t, repo, "old", "/new?utm=site#top")

	res, err := repo.Resolve(context.Background(), "/old", url.Values{"page": {"2"}, "utm": {"request"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "/new?page=2&utm=site#top", res.Location)

	repo, _ = newRepo(t, false)
	add(t, repo, "old", "/new")
	_, err = repo.Resolve(context.Background(), "/old", url.Values{"page": {"2"}}, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_StatusFromTerminalRedirect(t *testing.T) {
	repo, _ := newRepo(t, true)
	add(t, repo, "a", "/b")
	r := &core.Redirect{SourcePath: "b", Destination: "/c", StatusCode: 302, Enabled: true}
	require.NoError(t, repo.Save(context.Background(), r))

	res, err := repo.Resolve(context.Background(), "a", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 302, res.StatusCode)
	assert.Equal(t, "/c", res.Location)
}

func TestSave_Validation(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t, true)

	cases := map[string]*core.Redirect{
		"missing source":      {Destination: "/x"},
		"missing destination": {SourcePath: "a"},
		"bad scheme":          {SourcePath: "a", Destination: "ftp://example.com/x"},
		"relative non-path":   {SourcePath: "a", Destination: "example.com/x"},
		"bad status":          {SourcePath: "a", Destination: "/x", StatusCode: 304},
		"absolute source":     {SourcePath: "https://example.com/a", Destination: "/x"},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, repo.Save(ctx, r), ErrInvalid)
		})
	}

	require.ErrorIs(t, repo.Save(ctx, &core.Redirect{SourcePath: "/loop", Destination: "internal:/Loop"}), ErrSelfRedirect)
	require.NoError(t, repo.Save(ctx, &core.Redirect{SourcePath: "/loop", Destination: "/loop?x=1"}))
}

func TestSave_Defaults(t *testing.T) {
	repo, s := newRepo(t, true)
	r := &core.Redirect{SourcePath: "/Old?page=2", Destination: " /new ", Enabled: true}
	require.NoError(t, repo.Save(context.Background(), r))

	stored := s.redirects[r.ID]
	assert.Equal(t, "Old", stored.SourcePath)
	assert.Equal(t, map[string]any{"page": "2"}, stored.SourceQuery)
	assert.Equal(t, core.LanguageNotSpecified, stored.Language)
	assert.Equal(t, "/new", stored.Destination)
	assert.Equal(t, 301, stored.StatusCode)
	assert.False(t, stored.Created.IsZero())
	assert.Equal(t, GenerateHash("old", map[string]any{"page": "2"}, core.LanguageNotSpecified), stored.Hash)
}

func TestSave_DuplicateAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t, true)
	first := add(t, repo, "dup", "/one")

	err := repo.Save(ctx, &core.Redirect{SourcePath: "/DUP", Destination: "/two"})
	require.ErrorIs(t, err, ErrDuplicate)

	first.Destination = "/three"
	require.NoError(t, repo.Save(ctx, first), "updating the owner of a hash is allowed")

	loaded, err := repo.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "/three", loaded.Destination)
}

func TestLoadDeleteList(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t, true)
	a := add(t, repo, "blog/a", "/a")
	add(t, repo, "blog/b", "/b")
	add(t, repo, "news/c", "/c")

	list, err := repo.List(ctx, store.RedirectQuery{Prefix: "/blog"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, repo.Delete(ctx, a.ID))
	require.ErrorIs(t, repo.Delete(ctx, a.ID), ErrNotFound)

	_, err = repo.Load(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewRepositoryRequiresStore(t *testing.T) {
	_, err := NewRepository(nil, Options{})
	require.Error(t, err)
}
