package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StallAction is the recovery step chosen for a stalled session.
type StallAction int

const (
	ActionNudge StallAction = iota
	ActionCompact
	ActionRestart
)

func (a StallAction) String() string {
	switch a {
	case ActionNudge:
		return "nudge"
	case ActionCompact:
		return "compact"
	default:
		return "restart"
	}
}

// compactCommand asks the agent to shrink its context window in place.
const compactCommand = "/compact"

// Supervisor owns the per-session histories the monitor works on. All
// session tracking lives here behind one mutex; nothing about a session
// outlives its Forget call.
type Supervisor struct {
	mon Monitor

	mu        sync.Mutex
	histories map[string]*History
}

func NewSupervisor(mon Monitor) *Supervisor {
	return &Supervisor{mon: mon, histories: make(map[string]*History)}
}

func (s *Supervisor) history(sessionID string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[sessionID]
	if !ok {
		h = &History{Effective: StateUnknown}
		s.histories[sessionID] = h
	}
	return h
}

// Observe folds one raw sample into the session's history and returns the
// effective state after hysteresis.
func (s *Supervisor) Observe(sessionID string, raw RawState, now time.Time) State {
	h := s.history(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rawState := s.mon.DetectRawState(h, raw, now)
	eff := ApplyHysteresis(h, rawState)
	slog.Debug("session sample",
		"session", sessionID, "raw", rawState.String(), "effective", eff.String())
	return eff
}

// Snapshot returns a copy of the session's history, reporting absence for
// sessions never observed or already forgotten.
func (s *Supervisor) Snapshot(sessionID string) (History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[sessionID]
	if !ok {
		return History{}, false
	}
	return *h, true
}

// Forget drops a session's history. Call when the session ends; histories
// are never reaped implicitly.
func (s *Supervisor) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.histories, sessionID)
	s.mu.Unlock()
}

// RecoverStalled runs one escalation step against a stalled session.
// Attempts 1 and 2 nudge the agent with an empty input, 3 and 4 ask it to
// compact its context, the 5th stops the session and reports restart=true
// so the caller can relaunch it; the attempt counter resets to 0 on that
// restart. Every step also clears the stalled-sample streak so the next
// stall must build up again.
func (s *Supervisor) RecoverStalled(ctx context.Context, d Driver, sessionID string) (restart bool, err error) {
	h := s.history(sessionID)
	s.mu.Lock()
	h.StallAttempts++
	attempt := h.StallAttempts
	var action StallAction
	switch {
	case attempt <= 2:
		action = ActionNudge
	case attempt <= 4:
		action = ActionCompact
	default:
		action = ActionRestart
		h.StallAttempts = 0
	}
	h.ConsecStalled = 0
	s.mu.Unlock()

	slog.Info("stall recovery", "session", sessionID, "attempt", attempt, "action", action.String())
	switch action {
	case ActionNudge:
		if err := d.SendInput(ctx, sessionID, ""); err != nil {
			return false, fmt.Errorf("nudge %s: %w", sessionID, err)
		}
	case ActionCompact:
		if err := d.SendInput(ctx, sessionID, compactCommand); err != nil {
			return false, fmt.Errorf("compact %s: %w", sessionID, err)
		}
	case ActionRestart:
		if err := d.Stop(ctx, sessionID); err != nil {
			return false, fmt.Errorf("stop stalled %s: %w", sessionID, err)
		}
		return true, nil
	}
	return false, nil
}
