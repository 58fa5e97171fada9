package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/floodgate/floodgate/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		want    string
		wantErr bool
	}{
		{
			name: "remote url gets auth token",
			cfg:  config.StoreConfig{URL: "libsql://flood.turso.io", AuthToken: "secret"},
			want: "libsql://flood.turso.io?authToken=secret",
		},
		{
			name: "existing query is kept",
			cfg:  config.StoreConfig{URL: "libsql://flood.turso.io?tls=1", AuthToken: "secret"},
			want: "libsql://flood.turso.io?authToken=secret&tls=1",
		},
		{
			name: "explicit token in url wins",
			cfg:  config.StoreConfig{URL: "libsql://flood.turso.io?authToken=inline", AuthToken: "secret"},
			want: "libsql://flood.turso.io?authToken=inline",
		},
		{
			name: "url without token is untouched",
			cfg:  config.StoreConfig{URL: " libsql://flood.turso.io "},
			want: "libsql://flood.turso.io",
		},
		{
			name: "file dsn",
			cfg:  config.StoreConfig{Path: "file:./floodgate.db"},
			want: "file:./floodgate.db",
		},
		{
			name: "memory",
			cfg:  config.StoreConfig{Path: ":memory:"},
			want: ":memory:",
		},
		{
			name:    "nothing configured",
			cfg:     config.StoreConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildLibsqlDSN(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, dsn)
		})
	}
}

func TestBuildLibsqlDSNCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "floodgate.db")

	dsn, err := buildLibsqlDSN(config.StoreConfig{Path: path})
	require.NoError(t, err)
	require.Equal(t, "file:"+filepath.Clean(path), dsn)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestExtractFilePath(t *testing.T) {
	got, err := extractFilePath("file:///var/lib/floodgate/flood.db")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/floodgate/flood.db", got)

	got, err = extractFilePath("file:data/flood.db")
	require.NoError(t, err)
	require.Equal(t, "data/flood.db", got)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres"})
	require.ErrorContains(t, err, "store url is required")
}

func TestNilStoreIsNotReady(t *testing.T) {
	var s *Store
	require.ErrorIs(t, s.CheckHealth(context.Background()), errNotInitialized)
}
