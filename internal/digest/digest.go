// Package digest caches a natural-language summary per repository across
// runs. On reuse the cached summary is copied into the fresh worktree with
// an appended delta of commits landed since the summary was written, so an
// agent never re-reads a whole repository it has already summarized.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reviewherd/internal/gitx"
	"reviewherd/internal/state"
)

const digestVersion = 1

// FileName is the digest document inside a worktree.
const FileName = "REVIEW_DIGEST.md"

const changesHeader = "## Changes Since Last Review"

// Meta is the sidecar metadata stored next to each cached summary.
type Meta struct {
	Repo          string    `json:"repo"`
	LastCommit    string    `json:"last_commit"`
	LastReviewAt  time.Time `json:"last_review_at"`
	DigestVersion int       `json:"digest_version"`
}

// Cache stores summaries under one directory, a .md/.json pair per repo.
type Cache struct {
	dir string
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func slug(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "__")
}

func (c *Cache) summaryPath(repoID string) string {
	return filepath.Join(c.dir, slug(repoID)+".md")
}

func (c *Cache) metaPath(repoID string) string {
	return filepath.Join(c.dir, slug(repoID)+".json")
}

// Entry returns the cached metadata for repoID, reporting absence without
// error.
func (c *Cache) Entry(repoID string) (Meta, bool, error) {
	var meta Meta
	err := state.ReadJSON(c.metaPath(repoID), &meta)
	if os.IsNotExist(err) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, fmt.Errorf("read digest meta: %w", err)
	}
	return meta, true, nil
}

// Apply copies the cached summary into worktreePath. When the worktree's
// HEAD has moved past the cached commit, a "Changes Since Last Review"
// section lists the intervening commit subjects, oldest first. No cache
// entry means no digest file and no error.
func (c *Cache) Apply(ctx context.Context, repoID, worktreePath string) error {
	meta, ok, err := c.Entry(repoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	summary, err := os.ReadFile(c.summaryPath(repoID))
	if err != nil {
		if os.IsNotExist(err) {
			// Orphaned metadata without a summary behaves like no entry.
			return nil
		}
		return fmt.Errorf("read cached digest for %s: %w", repoID, err)
	}

	head, err := gitx.Head(ctx, worktreePath)
	if err != nil {
		return fmt.Errorf("apply digest for %s: %w", repoID, err)
	}

	doc := strings.TrimRight(string(summary), "\n") + "\n"
	if head != meta.LastCommit {
		commits, err := gitx.CommitsBetween(ctx, worktreePath, meta.LastCommit, head)
		if err != nil {
			return fmt.Errorf("compute digest delta for %s: %w", repoID, err)
		}
		if len(commits) > 0 {
			var b strings.Builder
			b.WriteString(doc)
			b.WriteString("\n" + changesHeader + "\n\n")
			for _, subject := range commits {
				fmt.Fprintf(&b, "- %s\n", subject)
			}
			doc = b.String()
		}
	}

	if err := os.WriteFile(filepath.Join(worktreePath, FileName), []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write digest into worktree: %w", err)
	}
	slog.Debug("digest applied", "repo", repoID, "cached_commit", meta.LastCommit, "head", head)
	return nil
}

// Update copies the worktree's digest document and current HEAD back into
// the cache, replacing any prior entry. A worktree without a digest file is
// a no-op: the session chose not to write one.
func (c *Cache) Update(ctx context.Context, repoID, worktreePath string) error {
	summary, err := os.ReadFile(filepath.Join(worktreePath, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read worktree digest for %s: %w", repoID, err)
	}

	head, err := gitx.Head(ctx, worktreePath)
	if err != nil {
		return fmt.Errorf("update digest for %s: %w", repoID, err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create digest cache dir: %w", err)
	}
	// Strip any delta section before caching; the next Apply recomputes it.
	doc := summary
	if idx := strings.Index(string(summary), changesHeader); idx >= 0 {
		doc = []byte(strings.TrimRight(string(summary[:idx]), "\n") + "\n")
	}
	if err := os.WriteFile(c.summaryPath(repoID), doc, 0o644); err != nil {
		return fmt.Errorf("cache digest for %s: %w", repoID, err)
	}
	meta := Meta{
		Repo:          repoID,
		LastCommit:    head,
		LastReviewAt:  time.Now().UTC(),
		DigestVersion: digestVersion,
	}
	if err := state.WriteJSONAtomic(c.metaPath(repoID), meta); err != nil {
		return fmt.Errorf("cache digest meta for %s: %w", repoID, err)
	}
	slog.Debug("digest cached", "repo", repoID, "commit", head)
	return nil
}

// Invalidate archives and removes the cache entry for repoID. Used when a
// cached summary is known stale, e.g. after a history rewrite.
func (c *Cache) Invalidate(repoID, reason string) error {
	_, ok, err := c.Entry(repoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	archiveDir := filepath.Join(c.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102-150405")
	for _, src := range []string{c.summaryPath(repoID), c.metaPath(repoID)} {
		dst := filepath.Join(archiveDir, stamp+"-"+filepath.Base(src))
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("archive %s: %w", src, err)
		}
	}
	slog.Info("digest invalidated", "repo", repoID, "reason", reason)
	return nil
}
