package subprocess

import (
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wagiedev/mcp-http-bridge/internal/errors"
)

// errNoBackend is returned when no backend executable was configured at all.
var errNoBackend = stderrors.New("no backend executable configured")

// Discover resolves the backend executable.
//
// A path containing a separator is used as given and must be an executable
// file. A bare name is searched for in the following order:
//  1. The system PATH
//  2. The directory holding the bridge executable
//
// Returns SpawnError listing every searched location if nothing usable is found.
func Discover(log *slog.Logger, path string) (string, error) {
	if path == "" {
		return "", &errors.SpawnError{Err: errNoBackend}
	}

	if strings.ContainsRune(path, filepath.Separator) || strings.ContainsRune(path, '/') {
		log.Debug("Using explicit backend path", "path", path)

		resolved, err := exec.LookPath(path)
		if err != nil {
			log.Debug("Explicit backend path not usable", "path", path, "error", err)

			return "", &errors.SpawnError{Path: path, SearchedPaths: []string{path}, Err: err}
		}

		return resolved, nil
	}

	searchedPaths := make([]string, 0, 2)

	log.Debug("Searching for backend in PATH", "name", path)

	resolved, err := exec.LookPath(path)
	if err == nil {
		log.Debug("Found backend in PATH", "path", resolved)

		return resolved, nil
	}

	searchedPaths = append(searchedPaths, "$PATH")
	lastErr := err

	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), path)
		searchedPaths = append(searchedPaths, candidate)

		log.Debug("Checking next to bridge executable", "path", candidate)

		resolved, err := exec.LookPath(candidate)
		if err == nil {
			log.Debug("Found backend next to bridge executable", "path", resolved)

			return resolved, nil
		}

		lastErr = err
	}

	log.Warn("Backend executable not found in any searched paths", "searched_paths", searchedPaths)

	return "", &errors.SpawnError{Path: path, SearchedPaths: searchedPaths, Err: lastErr}
}
