// Package workspace locates the workspace root and resolves the reserved
// storage directory the knowledge database must live under.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

// ReservedDirName is the subdirectory of the workspace root that holds all
// librarian state (database, audit artifacts).
const ReservedDirName = ".librarian"

// Root finds the workspace root for the given directory: git toplevel when
// available, otherwise the nearest ancestor containing .git, otherwise the
// directory itself.
func Root(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	cmd := exec.Command("git", "-C", abs, "rev-parse", "--show-toplevel")
	if out, err := cmd.Output(); err == nil {
		if top := strings.TrimSpace(string(out)); top != "" {
			return top, nil
		}
	}

	// git not installed or not a repository: walk up looking for .git
	if top, ok := findGitDir(abs); ok {
		return top, nil
	}
	return abs, nil
}

func findGitDir(dir string) (string, bool) {
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ReservedDir returns the reserved storage directory for a workspace root.
func ReservedDir(root string) string {
	return filepath.Join(root, ReservedDirName)
}

// ResolveStoragePath resolves a configured database path against the reserved
// storage directory. Relative paths are taken relative to the reserved
// directory. Any path that resolves outside the reserved directory is
// rejected with a storage_path_escape error so a hostile configuration cannot
// point the store at an arbitrary file.
func ResolveStoragePath(reservedDir, configured string) (string, error) {
	if configured == "" {
		return "", errtag.New(errtag.InvalidConfig, "database path is empty")
	}

	reservedAbs, err := filepath.Abs(reservedDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve reserved dir %s: %w", reservedDir, err)
	}

	resolved := configured
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(reservedAbs, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(reservedAbs, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errtag.New(errtag.StoragePathEscape,
			"database path %q resolves outside reserved storage directory %q", configured, reservedAbs)
	}
	return resolved, nil
}
