package gitx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func gitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

// initRepo creates a repository with one initial commit.
func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func commitFile(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", message)
	sha, err := Head(context.Background(), dir)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	return sha
}

func TestEnsureClean(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)

	if err := EnsureClean(ctx, dir); err != nil {
		t.Fatalf("clean repo: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := EnsureClean(ctx, dir); !errors.Is(err, ErrDirty) {
		t.Fatalf("untracked file: err = %v, want ErrDirty", err)
	}
}

func TestEnsureCleanNonRepo(t *testing.T) {
	t.Parallel()
	requireGit(t)
	if err := EnsureClean(context.Background(), t.TempDir()); !errors.Is(err, ErrNotARepo) {
		t.Fatalf("err = %v, want ErrNotARepo", err)
	}
}

func TestAddAndRemoveWorktree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	wt := filepath.Join(t.TempDir(), "wt")

	if err := AddWorktree(ctx, repo, wt, "review/test", "HEAD"); err != nil {
		t.Fatalf("add worktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wt, "README.md")); err != nil {
		t.Fatalf("worktree missing content: %v", err)
	}

	repoHead, _ := Head(ctx, repo)
	wtHead, err := Head(ctx, wt)
	if err != nil {
		t.Fatalf("worktree head: %v", err)
	}
	if repoHead != wtHead {
		t.Fatalf("worktree head %s != repo head %s", wtHead, repoHead)
	}

	if err := RemoveWorktree(ctx, repo, wt); err != nil {
		t.Fatalf("remove worktree: %v", err)
	}
}

func TestCommitsBetween(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)

	a, err := Head(ctx, dir)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	commitFile(t, dir, "one.txt", "1", "add retry logic")
	b := commitFile(t, dir, "two.txt", "2", "fix flaky test")

	got, err := CommitsBetween(ctx, dir, a, b)
	if err != nil {
		t.Fatalf("commits between: %v", err)
	}
	if len(got) != 2 || got[0] != "add retry logic" || got[1] != "fix flaky test" {
		t.Fatalf("commits = %v", got)
	}

	same, err := CommitsBetween(ctx, dir, b, b)
	if err != nil {
		t.Fatalf("identical shas: %v", err)
	}
	if len(same) != 0 {
		t.Fatalf("identical shas should yield no commits, got %v", same)
	}
}

func TestResolveRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)

	head, _ := Head(ctx, dir)
	byBranch, err := ResolveRef(ctx, dir, "main")
	if err != nil {
		t.Fatalf("resolve main: %v", err)
	}
	if byBranch != head {
		t.Fatalf("main = %s, head = %s", byBranch, head)
	}
	if _, err := ResolveRef(ctx, dir, "no-such-ref"); err == nil {
		t.Fatalf("expected error for unknown ref")
	}
}

func TestDiffStatCountsModifiedAndUntracked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)

	files, ins, del, err := DiffStat(ctx, dir)
	if err != nil || files != 0 || ins != 0 || del != 0 {
		t.Fatalf("clean repo stat = %d/%d/%d (%v)", files, ins, del, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\nworld\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("new\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	files, ins, del, err = DiffStat(ctx, dir)
	if err != nil {
		t.Fatalf("diff stat: %v", err)
	}
	if files != 2 {
		t.Fatalf("files = %d, want 2 (one modified, one untracked)", files)
	}
	if ins < 1 || del != 0 {
		t.Fatalf("lines = +%d -%d", ins, del)
	}
}
