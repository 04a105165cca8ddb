// Package state persists review outcomes and run progress. All documents
// are JSON, written atomically, and every read-modify-write happens under a
// directory-based lock so concurrent sessions and a second CLI process
// cannot lose updates.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

const stateVersion = 1

// ReviewState is the long-lived outcome document. Entries are only ever
// added or updated, never deleted.
type ReviewState struct {
	Version int                    `json:"version"`
	Repos   map[string]RepoOutcome `json:"repos"`
	Items   map[string]ItemOutcome `json:"items"`
	Runs    map[string]RunSummary  `json:"runs"`
}

type RepoOutcome struct {
	Outcome         string    `json:"outcome"` // completed|failed|skipped
	DurationSeconds int       `json:"duration_seconds"`
	Items           int       `json:"items"`
	Questions       int       `json:"questions"`
	RecordedAt      time.Time `json:"recorded_at"`
}

type ItemOutcome struct {
	Type       string    `json:"type"` // issue|pr
	Outcome    string    `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type RunSummary struct {
	Mode           string    `json:"mode"`
	Status         string    `json:"status"` // completed|budget_stop|failed
	ReposTotal     int       `json:"repos_total"`
	ReposCompleted int       `json:"repos_completed"`
	ReposFailed    int       `json:"repos_failed"`
	ItemsFound     int       `json:"items_found"`
	Issues         int       `json:"issues"`
	PRs            int       `json:"prs"`
	QuestionsAsked int       `json:"questions_asked"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Store manages the state documents under a root directory.
type Store struct {
	root      string
	stateLock *DirLock
	runLock   *DirLock
	holder    LockInfo
}

// NewStore roots a Store at dir. holder identifies this process in lock
// diagnostics.
func NewStore(dir string, holder LockInfo) *Store {
	return &Store{
		root:      dir,
		stateLock: NewDirLock(filepath.Join(dir, "state.lock")),
		runLock:   NewDirLock(filepath.Join(dir, "run.lock")),
		holder:    holder,
	}
}

func (s *Store) statePath() string      { return filepath.Join(s.root, "review-state.json") }
func (s *Store) checkpointPath() string { return filepath.Join(s.root, "review-checkpoint.json") }

// AcquireRunLock claims run-level exclusivity, failing fast with
// ErrLockHeld when another run is active.
func (s *Store) AcquireRunLock() error {
	return s.runLock.Acquire(s.holder)
}

// ReleaseRunLock drops run-level exclusivity.
func (s *Store) ReleaseRunLock() error {
	return s.runLock.Release()
}

// RunLockHolder exposes the diagnostics of whoever holds the run lock.
func (s *Store) RunLockHolder() (LockInfo, bool) {
	return s.runLock.Holder()
}

// Load reads the current review state. A missing file yields an empty,
// initialized document. Reads need no lock: writes are atomic renames.
func (s *Store) Load() (*ReviewState, error) {
	st := &ReviewState{Version: stateVersion}
	err := ReadJSON(s.statePath(), st)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load review state: %w", err)
	}
	if st.Repos == nil {
		st.Repos = map[string]RepoOutcome{}
	}
	if st.Items == nil {
		st.Items = map[string]ItemOutcome{}
	}
	if st.Runs == nil {
		st.Runs = map[string]RunSummary{}
	}
	return st, nil
}

// mutate performs a locked read-modify-write of the review state document.
func (s *Store) mutate(ctx context.Context, fn func(*ReviewState)) error {
	return WithLock(ctx, s.stateLock, s.holder, func() error {
		st, err := s.Load()
		if err != nil {
			return err
		}
		fn(st)
		st.Version = stateVersion
		return WriteJSONAtomic(s.statePath(), st)
	})
}

// RecordItemOutcome upserts the outcome for one work item key.
func (s *Store) RecordItemOutcome(ctx context.Context, itemKey string, oc ItemOutcome) error {
	if oc.RecordedAt.IsZero() {
		oc.RecordedAt = time.Now().UTC()
	}
	return s.mutate(ctx, func(st *ReviewState) {
		st.Items[itemKey] = oc
	})
}

// RecordRepoOutcome upserts the outcome for one repository.
func (s *Store) RecordRepoOutcome(ctx context.Context, repo string, oc RepoOutcome) error {
	if oc.RecordedAt.IsZero() {
		oc.RecordedAt = time.Now().UTC()
	}
	return s.mutate(ctx, func(st *ReviewState) {
		st.Repos[repo] = oc
	})
}

// RecordRun upserts the summary for one run id.
func (s *Store) RecordRun(ctx context.Context, runID string, summary RunSummary) error {
	return s.mutate(ctx, func(st *ReviewState) {
		st.Runs[runID] = summary
	})
}

var runIDPattern = regexp.MustCompile(`^run-[0-9]{8}-[0-9]{6}-[0-9a-f]{8}$`)

// NewRunID builds a fresh run id: sortable timestamp plus a random suffix.
func NewRunID(now time.Time, suffix string) string {
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// ValidRunID rejects anything that could not have been produced by
// NewRunID. Run ids become directory names, so this is the gate that keeps
// path traversal out of cleanup and lock paths.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}
