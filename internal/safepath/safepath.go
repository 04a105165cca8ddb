// Package safepath guards recursive deletion. Worktree cleanup reads paths
// from a mapping file that could be corrupted or tampered with, so every
// candidate path is verified to sit strictly inside the run's own base
// directory before anything is removed.
package safepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot marks targets that escape the containment root.
var ErrOutsideRoot = errors.New("path escapes containment root")

// WithinRoot resolves target and verifies it is strictly inside root.
// Symlink components anywhere in the target are rejected so a planted link
// cannot redirect deletion outside the root. Returns the resolved path.
func WithinRoot(root, target string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("containment root is required")
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("target path is required")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}

	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve target %s: %w", target, err)
	}
	targetAbs = filepath.Clean(targetAbs)

	if err := rejectSymlinks(targetAbs, rootReal); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(filepath.Clean(rootReal), targetAbs)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", target, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", target, ErrOutsideRoot)
	}
	return targetAbs, nil
}

// rejectSymlinks walks from candidate up to (but not including) stop,
// failing if any existing component is a symlink. Missing components are
// fine: a path that does not exist yet cannot be a link.
func rejectSymlinks(candidate, stop string) error {
	current := filepath.Clean(candidate)
	stop = filepath.Clean(stop)
	for current != stop {
		info, err := os.Lstat(current)
		switch {
		case err == nil && info.Mode()&os.ModeSymlink != 0:
			return fmt.Errorf("path contains symlink component %s: %w", current, ErrOutsideRoot)
		case err != nil && !os.IsNotExist(err):
			return err
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return nil
}
