// Package worktree manages the per-run isolated working copies. Each run
// owns one directory under the work root holding a mapping file and one git
// worktree per repository. Cleanup only ever deletes paths proven to live
// inside the run's own directory.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reviewherd/internal/gitx"
	"reviewherd/internal/safepath"
	"reviewherd/internal/state"
)

// ErrSkipRepo marks repositories that cannot serve as a worktree base and
// should be skipped rather than failing the batch.
var ErrSkipRepo = errors.New("repository skipped")

// Mapping records one repository's worktree within a run.
type Mapping struct {
	RepoPath     string    `json:"repo_path"`
	WorktreePath string    `json:"worktree_path"`
	Branch       string    `json:"branch"`
	BaseRef      string    `json:"base_ref"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manager owns the worktree set of a single run.
type Manager struct {
	workRoot string
	runID    string
	lock     *state.DirLock
	holder   state.LockInfo
}

// NewManager roots a Manager for runID under workRoot. The run id must have
// been validated by the caller; it becomes a directory name.
func NewManager(workRoot, runID string, holder state.LockInfo) (*Manager, error) {
	if !state.ValidRunID(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	m := &Manager{workRoot: workRoot, runID: runID, holder: holder}
	m.lock = state.NewDirLock(filepath.Join(m.RunDir(), "mapping.lock"))
	return m, nil
}

// RunDir is the run's private directory: every path this manager deletes
// lives inside it.
func (m *Manager) RunDir() string {
	return filepath.Join(m.workRoot, m.runID)
}

func (m *Manager) mappingPath() string {
	return filepath.Join(m.RunDir(), "mapping.json")
}

func repoSlug(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "__")
}

// Prepare creates a fresh worktree for repoID from pinnedRef (HEAD when
// empty) and records the mapping. A directory that is not a git repository
// yields ErrSkipRepo; a dirty repository is an error, it must never be
// used as a worktree base.
func (m *Manager) Prepare(ctx context.Context, repoID, repoPath, pinnedRef string) (string, error) {
	if !gitx.IsRepo(ctx, repoPath) {
		return "", fmt.Errorf("%s is not a git repository: %w", repoPath, ErrSkipRepo)
	}
	if err := gitx.EnsureClean(ctx, repoPath); err != nil {
		return "", fmt.Errorf("prepare worktree for %s: %w", repoID, err)
	}

	ref := pinnedRef
	if ref == "" {
		ref = "HEAD"
	}
	baseSHA, err := gitx.ResolveRef(ctx, repoPath, ref)
	if err != nil {
		return "", fmt.Errorf("prepare worktree for %s: %w", repoID, err)
	}

	wtPath := filepath.Join(m.RunDir(), "worktrees", repoSlug(repoID))
	branch := "review/" + m.runID
	if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}
	if err := gitx.AddWorktree(ctx, repoPath, wtPath, branch, baseSHA); err != nil {
		return "", fmt.Errorf("prepare worktree for %s: %w", repoID, err)
	}

	entry := Mapping{
		RepoPath:     repoPath,
		WorktreePath: wtPath,
		Branch:       branch,
		BaseRef:      baseSHA,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.record(ctx, repoID, entry); err != nil {
		return "", err
	}
	slog.Info("worktree ready", "repo", repoID, "path", wtPath, "base", baseSHA[:8])
	return wtPath, nil
}

// record upserts one mapping entry under the mapping lock so concurrent
// Prepare calls for different repositories never lose updates.
func (m *Manager) record(ctx context.Context, repoID string, entry Mapping) error {
	return state.WithLock(ctx, m.lock, m.holder, func() error {
		all, err := m.loadMapping()
		if err != nil {
			return err
		}
		all[repoID] = entry
		return state.WriteJSONAtomic(m.mappingPath(), all)
	})
}

// loadMapping tolerates a missing or empty mapping file.
func (m *Manager) loadMapping() (map[string]Mapping, error) {
	all := map[string]Mapping{}
	err := state.ReadJSON(m.mappingPath(), &all)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	return all, nil
}

// Lookup returns the mapping for repoID, reporting absence without error.
func (m *Manager) Lookup(repoID string) (Mapping, bool, error) {
	all, err := m.loadMapping()
	if err != nil {
		return Mapping{}, false, err
	}
	entry, ok := all[repoID]
	return entry, ok, nil
}

// LookupItemKey resolves the repository embedded in a work item key
// ("repo#kind-number") and returns its mapping.
func (m *Manager) LookupItemKey(itemKey string) (Mapping, bool, error) {
	repoID, _, ok := strings.Cut(itemKey, "#")
	if !ok {
		return Mapping{}, false, nil
	}
	return m.Lookup(repoID)
}

// All returns every mapping recorded for this run.
func (m *Manager) All() (map[string]Mapping, error) {
	return m.loadMapping()
}

// Exists reports whether repoID has a recorded worktree.
func (m *Manager) Exists(repoID string) bool {
	_, ok, err := m.Lookup(repoID)
	return err == nil && ok
}

// Release removes a single repository's worktree and drops its mapping
// entry. Used when a session completes and worktrees are not being kept.
func (m *Manager) Release(ctx context.Context, repoID string) error {
	entry, ok, err := m.Lookup(repoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := m.removeWorktree(ctx, entry); err != nil {
		return err
	}
	return state.WithLock(ctx, m.lock, m.holder, func() error {
		all, err := m.loadMapping()
		if err != nil {
			return err
		}
		delete(all, repoID)
		return state.WriteJSONAtomic(m.mappingPath(), all)
	})
}

func (m *Manager) removeWorktree(ctx context.Context, entry Mapping) error {
	resolved, err := safepath.WithinRoot(m.RunDir(), entry.WorktreePath)
	if err != nil {
		// A mapping that points outside the run directory is never followed,
		// even if the file was tampered with.
		slog.Warn("refusing to delete worktree outside run dir",
			"path", entry.WorktreePath, "err", err)
		return nil
	}
	if err := gitx.RemoveWorktree(ctx, entry.RepoPath, resolved); err != nil {
		slog.Warn("git worktree remove failed, removing directory anyway",
			"path", resolved, "err", err)
	}
	if err := os.RemoveAll(resolved); err != nil {
		return fmt.Errorf("remove worktree dir: %w", err)
	}
	return nil
}

// CleanupRun removes every worktree the run's mapping references, then the
// run directory itself. Paths outside the run directory are left untouched.
func (m *Manager) CleanupRun(ctx context.Context) error {
	all, err := m.loadMapping()
	if err != nil {
		// Corrupted mapping: still remove the run dir, which is provably ours.
		slog.Warn("mapping unreadable during cleanup, removing run dir only", "err", err)
		all = nil
	}
	for repoID, entry := range all {
		if err := m.removeWorktree(ctx, entry); err != nil {
			slog.Warn("cleanup: worktree removal failed", "repo", repoID, "err", err)
		}
	}

	runDir, err := safepath.WithinRoot(m.workRoot, m.RunDir())
	if err != nil {
		return fmt.Errorf("refusing to remove run dir: %w", err)
	}
	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("remove run dir: %w", err)
	}
	return nil
}
