package digest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
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

func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func commit(t *testing.T, dir, name, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", message)
}

const repoID = "acme/widgets"

func seedCache(t *testing.T, c *Cache, worktree, summary string) {
	t.Helper()
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(worktree, FileName), []byte(summary), 0o644); err != nil {
		t.Fatalf("write digest: %v", err)
	}
	if err := c.Update(ctx, repoID, worktree); err != nil {
		t.Fatalf("update cache: %v", err)
	}
	if err := os.Remove(filepath.Join(worktree, FileName)); err != nil {
		t.Fatalf("remove digest: %v", err)
	}
	// The digest file was never committed; drop it from git status noise.
}

func TestApplyWithoutEntryIsNoOp(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	c := NewCache(t.TempDir())

	if err := c.Apply(context.Background(), repoID, repo); err != nil {
		t.Fatalf("apply with empty cache: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo, FileName)); !os.IsNotExist(err) {
		t.Fatalf("no digest file should be created without a cache entry")
	}
}

func TestApplyAtSameCommitHasNoDeltaSection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	c := NewCache(t.TempDir())
	seedCache(t, c, repo, "# Widgets\n\nA repo that makes widgets.\n")

	if err := c.Apply(ctx, repoID, repo); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repo, FileName))
	if err != nil {
		t.Fatalf("read applied digest: %v", err)
	}
	if strings.Contains(string(got), "Changes Since Last Review") {
		t.Fatalf("no delta expected at identical commit:\n%s", got)
	}
	if !strings.Contains(string(got), "makes widgets") {
		t.Fatalf("summary text missing:\n%s", got)
	}
}

func TestApplyAppendsDeltaCommitsOldestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	c := NewCache(t.TempDir())
	seedCache(t, c, repo, "# Widgets\n")

	commit(t, repo, "a.txt", "add frobnicator")
	commit(t, repo, "b.txt", "fix frobnicator crash")

	if err := c.Apply(ctx, repoID, repo); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repo, FileName))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(got)
	if !strings.Contains(text, "## Changes Since Last Review") {
		t.Fatalf("delta section missing:\n%s", text)
	}
	addIdx := strings.Index(text, "add frobnicator")
	fixIdx := strings.Index(text, "fix frobnicator crash")
	if addIdx < 0 || fixIdx < 0 {
		t.Fatalf("both commit subjects must appear:\n%s", text)
	}
	if addIdx > fixIdx {
		t.Fatalf("delta must list commits oldest first:\n%s", text)
	}
}

func TestUpdateOverwritesPriorEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	c := NewCache(t.TempDir())
	seedCache(t, c, repo, "old summary\n")

	if err := os.WriteFile(filepath.Join(repo, FileName), []byte("new summary\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Update(ctx, repoID, repo); err != nil {
		t.Fatalf("update: %v", err)
	}

	cached, err := os.ReadFile(c.summaryPath(repoID))
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if string(cached) != "new summary\n" {
		t.Fatalf("cache = %q", cached)
	}
	meta, ok, err := c.Entry(repoID)
	if err != nil || !ok {
		t.Fatalf("entry: ok=%v err=%v", ok, err)
	}
	if meta.Repo != repoID || meta.LastCommit == "" || meta.DigestVersion != digestVersion {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestUpdateStripsDeltaSectionBeforeCaching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	c := NewCache(t.TempDir())

	doc := "# Widgets\n\n## Changes Since Last Review\n\n- old delta entry\n"
	if err := os.WriteFile(filepath.Join(repo, FileName), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Update(ctx, repoID, repo); err != nil {
		t.Fatalf("update: %v", err)
	}

	cached, _ := os.ReadFile(c.summaryPath(repoID))
	if strings.Contains(string(cached), "old delta entry") {
		t.Fatalf("delta section must not be cached:\n%s", cached)
	}
}

func TestUpdateWithoutWorktreeDigestIsNoOp(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	c := NewCache(t.TempDir())

	if err := c.Update(context.Background(), repoID, repo); err != nil {
		t.Fatalf("update without digest file: %v", err)
	}
	if _, ok, _ := c.Entry(repoID); ok {
		t.Fatalf("no entry should be created")
	}
}

func TestInvalidateArchivesEntry(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	dir := t.TempDir()
	c := NewCache(dir)
	seedCache(t, c, repo, "summary\n")

	if err := c.Invalidate(repoID, "base branch history rewritten"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Entry(repoID); ok {
		t.Fatalf("entry should be gone")
	}
	archived, err := os.ReadDir(filepath.Join(dir, "archive"))
	if err != nil || len(archived) == 0 {
		t.Fatalf("archive missing: %v", err)
	}

	// Idempotent on a missing entry.
	if err := c.Invalidate(repoID, "again"); err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
}
