package worktree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reviewherd/internal/state"
)

const testRunID = "run-20260301-120000-deadbeef"

func testHolder() state.LockInfo {
	return state.LockInfo{RunID: testRunID, PID: os.Getpid(), StartedAt: time.Now(), Mode: "plan"}
}

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
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), testRunID, testHolder())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewManagerRejectsBadRunID(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(t.TempDir(), "../escape", testHolder()); err == nil {
		t.Fatalf("expected invalid run id rejection")
	}
}

func TestPrepareCreatesWorktreeAndMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	m := newManager(t)

	path, err := m.Prepare(ctx, "acme/widgets", repo, "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Fatalf("worktree content missing: %v", err)
	}

	entry, ok, err := m.Lookup("acme/widgets")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if entry.WorktreePath != path || entry.Branch != "review/"+testRunID {
		t.Fatalf("mapping = %+v", entry)
	}
	if entry.BaseRef == "" || entry.CreatedAt.IsZero() {
		t.Fatalf("mapping incomplete: %+v", entry)
	}
	if !m.Exists("acme/widgets") {
		t.Fatalf("Exists should report true")
	}
}

func TestPrepareSkipsNonRepo(t *testing.T) {
	t.Parallel()
	requireGit(t)
	m := newManager(t)

	_, err := m.Prepare(context.Background(), "acme/junk", t.TempDir(), "")
	if !errors.Is(err, ErrSkipRepo) {
		t.Fatalf("err = %v, want ErrSkipRepo", err)
	}
}

func TestPrepareFailsOnDirtySource(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	if err := os.WriteFile(filepath.Join(repo, "wip.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := newManager(t)

	_, err := m.Prepare(context.Background(), "acme/dirty", repo, "")
	if err == nil || errors.Is(err, ErrSkipRepo) {
		t.Fatalf("dirty source must fail (not skip), got %v", err)
	}
}

func TestPreparePinnedRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)

	out, err := exec.Command("git", "-C", repo, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatalf("rev-parse: %v", err)
	}
	first := string(out[:40])

	if err := os.WriteFile(filepath.Join(repo, "later.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, repo, "add", ".")
	gitCmd(t, repo, "commit", "-m", "second")

	m := newManager(t)
	path, err := m.Prepare(ctx, "acme/widgets", repo, first)
	if err != nil {
		t.Fatalf("prepare pinned: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "later.txt")); !os.IsNotExist(err) {
		t.Fatalf("pinned worktree should not contain later commit")
	}

	entry, _, _ := m.Lookup("acme/widgets")
	if entry.BaseRef != first {
		t.Fatalf("base ref = %s, want %s", entry.BaseRef, first)
	}
}

func TestLookupTolerantOfMissingMapping(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	if _, ok, err := m.Lookup("acme/none"); err != nil || ok {
		t.Fatalf("missing mapping: ok=%v err=%v", ok, err)
	}
	all, err := m.All()
	if err != nil || len(all) != 0 {
		t.Fatalf("All on empty mapping: %v %v", all, err)
	}
}

func TestLookupItemKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	m := newManager(t)
	if _, err := m.Prepare(ctx, "acme/widgets", repo, ""); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	entry, ok, err := m.LookupItemKey("acme/widgets#issue-7")
	if err != nil || !ok {
		t.Fatalf("lookup by item key: ok=%v err=%v", ok, err)
	}
	if entry.WorktreePath == "" {
		t.Fatalf("entry = %+v", entry)
	}
	if _, ok, _ := m.LookupItemKey("malformed-key"); ok {
		t.Fatalf("malformed key must not resolve")
	}
}

func TestConcurrentPreparesKeepAllMappings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newManager(t)

	repos := map[string]string{
		"acme/a": initRepo(t),
		"acme/b": initRepo(t),
		"acme/c": initRepo(t),
	}
	var wg sync.WaitGroup
	for id, path := range repos {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Prepare(ctx, id, path, ""); err != nil {
				t.Errorf("prepare %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	all, err := m.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("mapping lost updates: %d entries, want 3", len(all))
	}
}

func TestCleanupRunRemovesWorktreesAndRunDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	m := newManager(t)

	path, err := m.Prepare(ctx, "acme/widgets", repo, "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if err := m.CleanupRun(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("worktree still present after cleanup")
	}
	if _, err := os.Stat(m.RunDir()); !os.IsNotExist(err) {
		t.Fatalf("run dir still present after cleanup")
	}
}

func TestCleanupRefusesPathsOutsideRunDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newManager(t)

	// A tampered mapping pointing at a victim directory outside the run dir.
	victim := t.TempDir()
	if err := os.WriteFile(filepath.Join(victim, "precious.txt"), []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write victim: %v", err)
	}
	if err := os.MkdirAll(m.RunDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	tampered := map[string]Mapping{
		"acme/evil": {RepoPath: victim, WorktreePath: victim, Branch: "x", BaseRef: "y", CreatedAt: time.Now()},
	}
	if err := state.WriteJSONAtomic(filepath.Join(m.RunDir(), "mapping.json"), tampered); err != nil {
		t.Fatalf("write tampered mapping: %v", err)
	}

	if err := m.CleanupRun(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(victim, "precious.txt")); err != nil {
		t.Fatalf("victim dir was touched: %v", err)
	}
	if _, err := os.Stat(m.RunDir()); !os.IsNotExist(err) {
		t.Fatalf("run dir should still be removed")
	}
}

func TestReleaseRemovesSingleWorktree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newManager(t)
	repoA := initRepo(t)
	repoB := initRepo(t)

	pathA, err := m.Prepare(ctx, "acme/a", repoA, "")
	if err != nil {
		t.Fatalf("prepare a: %v", err)
	}
	if _, err := m.Prepare(ctx, "acme/b", repoB, ""); err != nil {
		t.Fatalf("prepare b: %v", err)
	}

	if err := m.Release(ctx, "acme/a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Fatalf("released worktree still present")
	}
	if m.Exists("acme/a") {
		t.Fatalf("mapping entry should be gone")
	}
	if !m.Exists("acme/b") {
		t.Fatalf("other mapping must survive")
	}
}
