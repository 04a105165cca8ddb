package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"reviewherd/internal/discovery"
)

// CachedItem is one row of the work-item cache.
type CachedItem struct {
	Repo         string
	Kind         string
	Number       int
	Title        string
	Labels       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Draft        bool
	Score        int
	Level        string
	RunID        string
	DiscoveredAt time.Time
}

// UpsertItems records a discovery batch. Re-discovered items keep their
// identity and take the fresh score and run id.
func (s *Store) UpsertItems(ctx context.Context, runID string, items []discovery.ScoredItem) error {
	tx, err := s.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin item upsert: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO work_items(
  repo, kind, number, title, labels_json, created_at, updated_at, draft,
  score, level, run_id, discovered_at
) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(repo, kind, number) DO UPDATE SET
  title=excluded.title,
  labels_json=excluded.labels_json,
  updated_at=excluded.updated_at,
  draft=excluded.draft,
  score=excluded.score,
  level=excluded.level,
  run_id=excluded.run_id,
  discovered_at=excluded.discovered_at`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare item upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, item := range items {
		labelsJSON := "[]"
		if len(item.Labels) > 0 {
			b, _ := json.Marshal(item.Labels)
			labelsJSON = string(b)
		}
		if _, err := stmt.ExecContext(ctx,
			item.Repo, string(item.Kind), item.Number, item.Title, labelsJSON,
			item.CreatedAt.UTC().Format(time.RFC3339), item.UpdatedAt.UTC().Format(time.RFC3339),
			boolToInt(item.Draft), item.Score, item.Level.String(), runID, now,
		); err != nil {
			return fmt.Errorf("upsert item %s: %w", item.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit item upsert: %w", err)
	}
	return nil
}

// ListItems returns cached items, optionally filtered to one repo, highest
// score first.
func (s *Store) ListItems(ctx context.Context, repo string) ([]CachedItem, error) {
	q := `
SELECT repo, kind, number, title, labels_json, created_at, updated_at, draft,
       score, level, run_id, discovered_at
FROM work_items`
	var args []any
	if repo != "" {
		q += ` WHERE repo = ?`
		args = append(args, repo)
	}
	q += ` ORDER BY score DESC, repo, number`

	rows, err := s.Reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []CachedItem
	for rows.Next() {
		var (
			it                           CachedItem
			labelsJSON                   string
			created, updated, discovered string
			draft                        int
		)
		if err := rows.Scan(&it.Repo, &it.Kind, &it.Number, &it.Title, &labelsJSON,
			&created, &updated, &draft, &it.Score, &it.Level, &it.RunID, &discovered); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if labelsJSON != "" && labelsJSON != "[]" {
			if err := json.Unmarshal([]byte(labelsJSON), &it.Labels); err != nil {
				return nil, fmt.Errorf("decode labels for %s#%s-%d: %w", it.Repo, it.Kind, it.Number, err)
			}
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339, created)
		it.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		it.DiscoveredAt, _ = time.Parse(time.RFC3339, discovered)
		it.Draft = draft == 1
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountByKind returns how many cached items exist per kind for a run.
func (s *Store) CountByKind(ctx context.Context, runID string) (issues, prs int, err error) {
	const q = `
SELECT kind, COUNT(*) FROM work_items WHERE run_id = ? GROUP BY kind`
	rows, err := s.Reader.QueryContext(ctx, q, runID)
	if err != nil {
		return 0, 0, fmt.Errorf("count items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, 0, fmt.Errorf("scan count: %w", err)
		}
		switch kind {
		case "issue":
			issues = n
		case "pr":
			prs = n
		}
	}
	return issues, prs, rows.Err()
}

// PruneStale deletes items not re-discovered since the cutoff.
func (s *Store) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.Writer.ExecContext(ctx,
		`DELETE FROM work_items WHERE discovered_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune stale items: %w", err)
	}
	return res.RowsAffected()
}

// LastSync returns when the owner's repos were last discovered.
func (s *Store) LastSync(ctx context.Context, owner string) (time.Time, bool, error) {
	var v string
	err := s.Reader.QueryRowContext(ctx,
		`SELECT last_synced_at FROM sync_cursors WHERE owner = ?`, owner).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get sync cursor %s: %w", owner, err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse sync cursor %s: %w", owner, err)
	}
	return t, true, nil
}

// SetLastSync records a completed discovery pass for the owner.
func (s *Store) SetLastSync(ctx context.Context, owner string, at time.Time) error {
	const q = `
INSERT INTO sync_cursors(owner, last_synced_at) VALUES(?,?)
ON CONFLICT(owner) DO UPDATE SET last_synced_at=excluded.last_synced_at`
	if _, err := s.Writer.ExecContext(ctx, q, owner, at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set sync cursor %s: %w", owner, err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
