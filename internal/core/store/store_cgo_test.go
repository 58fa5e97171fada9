//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/floodgate/floodgate/internal/config"
	"github.com/floodgate/floodgate/internal/core"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.CheckHealth(ctx))
	require.NoError(t, store.Close())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{
		Driver: "libsql",
		Path:   filepath.Join(t.TempDir(), "data", "floodgate.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestLocalFileStoreUsesWALAndBusyTimeout(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", strings.ToLower(journalMode))

	var busyTimeout int
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, sqliteBusyTimeoutMS, busyTimeout)
}

func TestFloodTableIsCreatedOnDemand(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	exists, err := store.FloodTableExists(ctx)
	require.NoError(t, err)
	require.False(t, exists, "migrations must not create the flood table")

	// Admin reads tolerate the missing table.
	events, err := store.ListFloodEvents(ctx, FloodQuery{All: true})
	require.NoError(t, err)
	require.Empty(t, events)

	require.Error(t, store.InsertFloodEvent(ctx, core.FloodEvent{Event: "contact", Identifier: "a"}))

	require.NoError(t, store.CreateFloodTable(ctx))
	require.Error(t, store.CreateFloodTable(ctx), "a second create must fail")

	exists, err = store.FloodTableExists(ctx)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestFloodEventLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.CreateFloodTable(ctx))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	rows := []core.FloodEvent{
		{Event: "contact", Identifier: "7-10.0.0.1", Timestamp: now - 7200, Expiration: now - 3600},
		{Event: "contact", Identifier: "7-10.0.0.1", Timestamp: now - 60, Expiration: now + 3540},
		{Event: "contact", Identifier: "8-10.0.0.1", Timestamp: now - 30, Expiration: now + 3570},
		{Event: "user.failed_login_ip", Identifier: "10.0.0.1", Timestamp: now, Expiration: now + 3600},
	}
	for _, row := range rows {
		require.NoError(t, store.InsertFloodEvent(ctx, row))
	}

	count, err := store.CountFloodEvents(ctx, "contact", "7-10.0.0.1", now-3600)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	listed, err := store.ListFloodEvents(ctx, FloodQuery{Event: "contact", Limit: 2})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "8-10.0.0.1", listed[0].Identifier, "newest first")

	matched, err := store.CountFloodRows(ctx, FloodQuery{Event: "contact", Prefix: "7-"})
	require.NoError(t, err)
	require.Equal(t, 2, matched)

	removed, err := store.DeleteExpiredFloodEvents(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	removed, err = store.DeleteFloodEventsByPrefix(ctx, "contact", "7-")
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	removed, err = store.DeleteFloodEvents(ctx, "contact", "8-10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	removed, err = store.ResetFloodEvents(ctx, FloodQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestRedirectCRUD(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &core.Redirect{
		Hash:        "hash-old",
		SourcePath:  "old",
		SourceQuery: map[string]any{"page": "2"},
		Language:    core.LanguageNotSpecified,
		Destination: "internal:/new",
		StatusCode:  301,
		Enabled:     true,
		Created:     created,
	}
	require.NoError(t, store.SaveRedirect(ctx, item))
	require.NotZero(t, item.ID)

	loaded, err := store.GetRedirect(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "old", loaded.SourcePath)
	require.Equal(t, map[string]any{"page": "2"}, loaded.SourceQuery)
	require.True(t, loaded.Enabled)
	require.Equal(t, created.Unix(), loaded.Created.Unix())

	byHash, err := store.GetRedirectByHash(ctx, "hash-old")
	require.NoError(t, err)
	require.Equal(t, item.ID, byHash.ID)

	item.Destination = "https://example.com/new"
	item.Enabled = false
	require.NoError(t, store.SaveRedirect(ctx, item))

	loaded, err = store.GetRedirect(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/new", loaded.Destination)
	require.False(t, loaded.Enabled)

	missing, err := store.GetRedirect(ctx, item.ID+100)
	require.NoError(t, err)
	require.Nil(t, missing)

	deleted, err := store.DeleteRedirect(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.DeleteRedirect(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestFindRedirectsByHashesPrefersLongerQueries(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	items := []*core.Redirect{
		{Hash: "plain", SourcePath: "search", Language: "und", Destination: "internal:/a", StatusCode: 301, Enabled: true},
		{Hash: "query", SourcePath: "search", SourceQuery: map[string]any{"q": "go"}, Language: "und", Destination: "internal:/b", StatusCode: 301, Enabled: true},
		{Hash: "off", SourcePath: "search", Language: "de", Destination: "internal:/c", StatusCode: 301},
	}
	for _, item := range items {
		require.NoError(t, store.SaveRedirect(ctx, item))
	}

	found, err := store.FindRedirectsByHashes(ctx, []string{"plain", "query", "off"})
	require.NoError(t, err)
	require.Len(t, found, 2, "disabled redirects are skipped")
	require.Equal(t, "query", found[0].Hash)
	require.Equal(t, "plain", found[1].Hash)

	found, err = store.FindRedirectsByHashes(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, found)

	listed, err := store.ListRedirects(ctx, RedirectQuery{Prefix: "/sea", Limit: 2})
	require.NoError(t, err)
	require.Len(t, listed, 2)
}
