// Package gitx wraps the git CLI for the handful of local-repository
// operations the orchestrator needs: cleanliness checks, worktree
// lifecycle, and commit-range queries. All operations run against local
// paths; no remote auth is involved.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotARepo marks directories that are not git repositories.
var ErrNotARepo = errors.New("not a git repository")

// ErrDirty marks repositories with uncommitted changes.
var ErrDirty = errors.New("repository has uncommitted changes")

func run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return formatError(args, out, err)
	}
	return nil
}

func output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		msg := out
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			msg = append(msg, exitErr.Stderr...)
		}
		return "", formatError(args, msg, err)
	}
	return string(out), nil
}

func formatError(args []string, out []byte, err error) error {
	msg := strings.TrimSpace(string(out))
	if msg != "" {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
}

// IsRepo reports whether dir is inside a git repository.
func IsRepo(ctx context.Context, dir string) bool {
	return run(ctx, dir, "rev-parse", "--git-dir") == nil
}

// EnsureClean fails with ErrNotARepo or ErrDirty unless dir is a git
// repository with no staged, unstaged, or untracked changes.
func EnsureClean(ctx context.Context, dir string) error {
	if !IsRepo(ctx, dir) {
		return fmt.Errorf("%s: %w", dir, ErrNotARepo)
	}
	out, err := output(ctx, dir, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("check status of %s: %w", dir, err)
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("%s: %w", dir, ErrDirty)
	}
	return nil
}

// Head returns the HEAD commit SHA of the repository at dir.
func Head(ctx context.Context, dir string) (string, error) {
	out, err := output(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ResolveRef resolves a ref (branch, tag, or SHA) to a full commit SHA.
func ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	out, err := output(ctx, dir, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// AddWorktree creates a new worktree of repoPath at worktreePath, on a new
// branch created from ref.
func AddWorktree(ctx context.Context, repoPath, worktreePath, branch, ref string) error {
	if err := run(ctx, repoPath, "worktree", "add", "-b", branch, worktreePath, ref); err != nil {
		return fmt.Errorf("add worktree: %w", err)
	}
	return nil
}

// RemoveWorktree detaches worktreePath from repoPath. Directory removal is
// the caller's job; this only clears git's bookkeeping.
func RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	if err := run(ctx, repoPath, "worktree", "remove", "--force", worktreePath); err != nil {
		// The worktree dir may already be gone; prune handles that.
		if pruneErr := run(ctx, repoPath, "worktree", "prune"); pruneErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	return nil
}

// CommitsBetween returns the subject lines of commits reachable from "to"
// but not from "from", oldest first. Identical SHAs yield an empty slice.
func CommitsBetween(ctx context.Context, dir, from, to string) ([]string, error) {
	if from == to {
		return nil, nil
	}
	out, err := output(ctx, dir, "log", "--reverse", "--format=%s", from+".."+to)
	if err != nil {
		return nil, fmt.Errorf("list commits %s..%s: %w", from, to, err)
	}
	var subjects []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			subjects = append(subjects, line)
		}
	}
	return subjects, nil
}

// DiffStat summarizes uncommitted work in dir against HEAD: touched file
// count (untracked files included) and inserted/deleted line counts.
func DiffStat(ctx context.Context, dir string) (files, insertions, deletions int, err error) {
	out, err := output(ctx, dir, "diff", "HEAD", "--shortstat")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("diff stat of %s: %w", dir, err)
	}
	files, insertions, deletions = parseShortStat(out)

	status, err := output(ctx, dir, "status", "--porcelain")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("check status of %s: %w", dir, err)
	}
	for _, line := range strings.Split(status, "\n") {
		if strings.HasPrefix(line, "??") {
			files++
		}
	}
	return files, insertions, deletions, nil
}

// parseShortStat reads git's "%d files changed, %d insertions(+), %d
// deletions(-)" summary; any of the three parts may be absent.
func parseShortStat(out string) (files, insertions, deletions int) {
	for _, field := range strings.Split(strings.TrimSpace(out), ", ") {
		var n int
		if _, err := fmt.Sscanf(field, "%d", &n); err != nil {
			continue
		}
		switch {
		case strings.Contains(field, "file"):
			files = n
		case strings.Contains(field, "insertion"):
			insertions = n
		case strings.Contains(field, "deletion"):
			deletions = n
		}
	}
	return files, insertions, deletions
}

// CommitAll stages everything in dir and commits it. Used by tests and by
// apply-mode sessions that leave uncommitted work behind.
func CommitAll(ctx context.Context, dir, message string) (string, error) {
	if err := run(ctx, dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}
	if err := run(ctx, dir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return Head(ctx, dir)
}
