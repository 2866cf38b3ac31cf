package subprocess

import (
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-http-bridge/internal/errors"
)

// TestDiscover_NotFound tests that an invalid backend path returns SpawnError.
func TestDiscover_NotFound(t *testing.T) {
	_, err := Discover(slog.Default(), "/nonexistent/path/to/mcp-server-wazuh")

	require.Error(t, err)
	require.IsType(t, &errors.SpawnError{}, err)
}

// TestDiscover_ExplicitPath tests discovery with an explicit path.
func TestDiscover_ExplicitPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test requires Unix permission semantics")
	}

	fakeBackend := filepath.Join(t.TempDir(), "mcp-server-wazuh")
	require.NoError(t, os.WriteFile(fakeBackend, []byte("#!/bin/sh\ncat\n"), 0o755))

	path, err := Discover(slog.Default(), fakeBackend)

	require.NoError(t, err)
	require.Equal(t, fakeBackend, path)
}

// TestDiscover_PathLookup tests that a bare name is found on PATH.
func TestDiscover_PathLookup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test requires Unix permission semantics")
	}

	dir := t.TempDir()
	fakeBackend := filepath.Join(dir, "mcp-bridge-test-backend")
	require.NoError(t, os.WriteFile(fakeBackend, []byte("#!/bin/sh\ncat\n"), 0o755))

	t.Setenv("PATH", dir)

	path, err := Discover(slog.Default(), "mcp-bridge-test-backend")

	require.NoError(t, err)
	require.Equal(t, fakeBackend, path)
}

// TestDiscover_BareNameNotFound tests that every searched location is reported.
func TestDiscover_BareNameNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := Discover(slog.Default(), "mcp-bridge-no-such-backend")

	spawnErr, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok, "expected SpawnError, got %v", err)
	require.Equal(t, "mcp-bridge-no-such-backend", spawnErr.Path)
	require.Contains(t, spawnErr.SearchedPaths, "$PATH")
	require.Contains(t, err.Error(), "searched:")
}

func TestDiscover_Empty(t *testing.T) {
	_, err := Discover(slog.Default(), "")

	require.IsType(t, &errors.SpawnError{}, err)
}
