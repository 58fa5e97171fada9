package appid

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetIdentityCache clears gofulmen's per-process identity cache.
func resetIdentityCache(t *testing.T) {
	t.Helper()
	appidentity.Reset()
	t.Cleanup(appidentity.Reset)
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.Chdir(t.TempDir()))
}

func TestDefaultIdentity(t *testing.T) {
	identity := Default()
	assert.Equal(t, "floodgate", identity.BinaryName)
	assert.Equal(t, "FLOODGATE_", identity.EnvPrefix)
	assert.Equal(t, ConfigName, identity.ConfigName)
	assert.NotEmpty(t, identity.Description)
}

func TestGetFallsBackOutsideRepo(t *testing.T) {
	resetIdentityCache(t)
	t.Setenv(appidentity.EnvIdentityPath, "")
	chdirTemp(t)

	identity, err := Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BinaryName, identity.BinaryName)
	assert.Equal(t, EnvPrefix, identity.EnvPrefix)
}

func TestGetHonoursExplicitIdentityPath(t *testing.T) {
	resetIdentityCache(t)
	t.Setenv(appidentity.EnvIdentityPath, filepath.Join(t.TempDir(), "absent.yaml"))

	identity, err := Get(context.Background())
	require.Error(t, err)
	assert.Nil(t, identity)

	var notFound *appidentity.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
