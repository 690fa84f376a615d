// Package projectroot locates the Forge project root: the directory
// containing a FORGE_ROOT marker file (§6).
//
// This generalizes the original Rust implementation's forge_root_config.rs,
// which loaded a FORGE_ROOT file directly at a caller-supplied path with no
// walk-up discovery. The spec adds one behavior the original didn't have —
// auto-detection by walking up from the working directory — which this
// package implements; the FORGE_ROOT environment variable, when set,
// overrides discovery entirely and is used as the root (made absolute).
package projectroot

import (
	"os"
	"path/filepath"

	"github.com/forgebuild/forge/internal/forgeerr"
)

// MarkerFile is the name of the file that identifies a project root.
const MarkerFile = "FORGE_ROOT"

// Find returns the project root: the value of the FORGE_ROOT environment
// variable if set, otherwise the nearest ancestor of startDir (inclusive)
// containing a FORGE_ROOT file.
func Find(startDir string) (string, error) {
	if envRoot := os.Getenv("FORGE_ROOT"); envRoot != "" {
		abs, err := filepath.Abs(envRoot)
		if err != nil {
			return "", forgeerr.New(forgeerr.KindConfig, "", "resolving FORGE_ROOT %q: %v", envRoot, err)
		}
		return abs, nil
	}
	return walkUp(startDir)
}

func walkUp(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", forgeerr.New(forgeerr.KindConfig, "", "resolving start directory %q: %v", startDir, err)
	}

	for {
		marker := filepath.Join(dir, MarkerFile)
		if info, statErr := os.Stat(marker); statErr == nil && !info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", forgeerr.New(forgeerr.KindConfig, "", "no %s marker found above %q", MarkerFile, startDir)
		}
		dir = parent
	}
}

// OutDir returns the project's forge-out directory (§6's on-disk layout).
func OutDir(root string) string { return filepath.Join(root, "forge-out") }

// CasDir returns the project's CAS root.
func CasDir(root string) string { return filepath.Join(OutDir(root), "cas") }

// CacheIndexPath returns the project's cache.json path.
func CacheIndexPath(root string) string { return filepath.Join(OutDir(root), "cache.json") }
