package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles cmd/floodgate into a temp dir and returns its path.
func buildBinary(t *testing.T) string {
	t.Helper()

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	root := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", root, "go env GOMOD returned empty")

	binary := filepath.Join(t.TempDir(), "floodgate")
	build := exec.Command("go", "build", "-o", binary, "./cmd/floodgate")
	build.Dir = root
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)
	return binary
}

func TestStandaloneBinaryRunsOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary test is unix-focused")
	}
	if testing.Short() {
		t.Skip("builds the binary")
	}

	built := buildBinary(t)

	// Copy the binary somewhere without go.mod or .fulmen to prove the
	// embedded identity defaults are enough.
	outside := t.TempDir()
	binary := filepath.Join(outside, "floodgate")
	data, err := os.ReadFile(built)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(binary, data, 0o755))

	run := func(args ...string) string {
		cmd := exec.Command(binary, args...)
		cmd.Dir = outside
		cmd.Env = append(os.Environ(), "FLOODGATE_DB_PATH="+filepath.Join(outside, "floodgate.db"))
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "floodgate %s:\n%s", strings.Join(args, " "), out)
		return string(out)
	}

	assert.Contains(t, run("version"), "floodgate")
	assert.Contains(t, run("--help"), "flood")
	assert.Contains(t, run("redirect", "--help"), "resolve")
	assert.Contains(t, run("flood", "--help"), "register")
}
