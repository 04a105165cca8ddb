// Package session starts and supervises agent subprocesses, one per
// worktree, and classifies their noisy output into a small state set the
// orchestrator can act on.
package session

import (
	"context"
	"errors"
)

// ErrSessionGone marks operations on unknown or already-stopped sessions.
// Callers treat it as "the session ended", never as a crash.
var ErrSessionGone = errors.New("session gone")

// RawState is the unclassified liveness signal for one session: whether the
// process is up and the current tail of its output.
type RawState struct {
	Alive  bool
	Output string
}

// Driver runs agent sessions. One implementation backs it at a time; the
// orchestrator depends only on this interface.
type Driver interface {
	// Start launches one agent session in worktreePath with the given
	// prompt and returns its session id.
	Start(ctx context.Context, worktreePath, prompt string) (string, error)

	// SendInput delivers text (plus a newline) to the session's stdin.
	SendInput(ctx context.Context, sessionID, text string) error

	// RawState returns the session's liveness and current output tail.
	RawState(ctx context.Context, sessionID string) (RawState, error)

	// Interrupt softly signals the session; it remains usable afterwards.
	Interrupt(ctx context.Context, sessionID string) error

	// Stop terminates the session. Destructive and final.
	Stop(ctx context.Context, sessionID string) error

	// IsAlive reports whether the session process still runs.
	IsAlive(ctx context.Context, sessionID string) bool
}
