package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockHeld is returned when the lock is already taken by another holder.
var ErrLockHeld = errors.New("lock is held by another run")

// LockInfo identifies the lock holder. Diagnostic only; the directory's
// existence is what is authoritative.
type LockInfo struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Mode      string    `json:"mode"`
}

// DirLock is a mutual-exclusion primitive built on atomic directory
// creation. It works across processes on any platform where mkdir is
// atomic. The lock path is always built with filepath.Join from trusted
// components; holder-supplied values are written as JSON data only and are
// never interpreted when constructing paths.
type DirLock struct {
	dir string
}

// NewDirLock returns a lock rooted at dir (the directory that will be
// created on acquire).
func NewDirLock(dir string) *DirLock {
	return &DirLock{dir: dir}
}

// Acquire takes the lock or fails fast with ErrLockHeld.
func (l *DirLock) Acquire(info LockInfo) error {
	if err := os.MkdirAll(filepath.Dir(l.dir), 0o755); err != nil {
		return fmt.Errorf("create lock parent: %w", err)
	}
	if err := os.Mkdir(l.dir, 0o755); err != nil {
		if os.IsExist(err) {
			if holder, ok := l.Holder(); ok {
				return fmt.Errorf("%w (run %s, pid %d, since %s)",
					ErrLockHeld, holder.RunID, holder.PID, holder.StartedAt.Format(time.RFC3339))
			}
			return ErrLockHeld
		}
		return fmt.Errorf("create lock dir: %w", err)
	}
	// The lock works without its diagnostics file.
	_ = WriteJSONAtomic(filepath.Join(l.dir, "info.json"), info)
	return nil
}

// AcquireWait polls for the lock until it succeeds or ctx is done. Used for
// the short-held state and queue locks where contention is transient.
func (l *DirLock) AcquireWait(ctx context.Context, info LockInfo) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		err := l.Acquire(info)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for lock %s: %w", l.dir, ctx.Err())
		case <-tick.C:
		}
	}
}

// Release drops the lock. Safe to call when not held.
func (l *DirLock) Release() error {
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	return nil
}

// Holder reads the diagnostic info of the current holder, if any.
func (l *DirLock) Holder() (LockInfo, bool) {
	var info LockInfo
	if err := ReadJSON(filepath.Join(l.dir, "info.json"), &info); err != nil {
		return LockInfo{}, false
	}
	return info, true
}

// WithLock runs fn while holding the lock, releasing it on every exit path
// including panics and fn errors.
func WithLock(ctx context.Context, l *DirLock, info LockInfo, fn func() error) error {
	if err := l.AcquireWait(ctx, info); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
