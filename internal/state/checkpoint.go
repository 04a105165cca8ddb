package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const checkpointVersion = 1

// Checkpoint records resumable progress for one active run. It is created
// at run start, rewritten after every repository transition, and deleted on
// clean completion. A checkpoint left behind at startup means the prior run
// was interrupted.
type Checkpoint struct {
	Version        int       `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
	RunID          string    `json:"run_id"`
	Mode           string    `json:"mode"`
	ConfigHash     string    `json:"config_hash"`
	ReposTotal     int       `json:"repos_total"`
	ReposCompleted int       `json:"repos_completed"`
	ReposPending   int       `json:"repos_pending"`
	CompletedRepos []string  `json:"completed_repos"`
	PendingRepos   []string  `json:"pending_repos"`
}

// SaveCheckpoint persists cp under the state lock.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	cp.Version = checkpointVersion
	cp.Timestamp = time.Now().UTC()
	cp.ReposCompleted = len(cp.CompletedRepos)
	cp.ReposPending = len(cp.PendingRepos)
	return WithLock(ctx, s.stateLock, s.holder, func() error {
		return WriteJSONAtomic(s.checkpointPath(), cp)
	})
}

// LoadCheckpoint returns the stored checkpoint, or nil when none exists.
// A checkpoint that cannot be parsed or fails basic validation is rejected
// with an error rather than partially applied.
func (s *Store) LoadCheckpoint() (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := ReadJSON(s.checkpointPath(), cp)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.RunID == "" || !ValidRunID(cp.RunID) {
		return nil, fmt.Errorf("checkpoint has invalid run id %q", cp.RunID)
	}
	if cp.ReposTotal < len(cp.CompletedRepos) {
		return nil, fmt.Errorf("checkpoint counts are inconsistent")
	}
	return cp, nil
}

// ResumeCheckpoint applies the resume policy: a checkpoint whose config
// hash matches is returned for resumption; a mismatched hash forces a fresh
// start and the stale checkpoint is set aside (renamed), never silently
// resumed. Corrupt checkpoints are also set aside.
func (s *Store) ResumeCheckpoint(configHash string) (*Checkpoint, error) {
	cp, err := s.LoadCheckpoint()
	if err != nil {
		slog.Warn("discarding unreadable checkpoint", "err", err)
		return nil, s.setAsideCheckpoint()
	}
	if cp == nil {
		return nil, nil
	}
	if cp.ConfigHash != configHash {
		slog.Warn("checkpoint config hash mismatch, forcing fresh start",
			"checkpoint_run", cp.RunID, "checkpoint_hash", cp.ConfigHash, "current_hash", configHash)
		return nil, s.setAsideCheckpoint()
	}
	return cp, nil
}

func (s *Store) setAsideCheckpoint() error {
	stale := s.checkpointPath() + ".stale"
	if err := os.Rename(s.checkpointPath(), stale); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("set aside checkpoint: %w", err)
	}
	return nil
}

// ClearCheckpoint removes the checkpoint after clean completion.
func (s *Store) ClearCheckpoint(ctx context.Context) error {
	return WithLock(ctx, s.stateLock, s.holder, func() error {
		if err := os.Remove(s.checkpointPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
		return nil
	})
}
