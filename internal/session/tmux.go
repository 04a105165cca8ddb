package session

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const socketName = "reviewherd"

// TmuxDriver runs each agent session as a detached tmux session on a
// dedicated socket, so sessions survive orchestrator restarts and a human
// can attach to any of them for inspection.
type TmuxDriver struct {
	agent string
	args  []string

	mu    sync.Mutex
	known map[string]bool
}

// NewTmuxDriver returns a driver launching the given agent binary with args.
func NewTmuxDriver(agent string, args []string) *TmuxDriver {
	return &TmuxDriver{agent: agent, args: args, known: make(map[string]bool)}
}

// TmuxAvailable reports whether a tmux binary is on PATH.
func TmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

func (d *TmuxDriver) tmux(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-L", socketName}, args...)
	out, err := exec.CommandContext(ctx, "tmux", full...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (d *TmuxDriver) remember(id string) {
	d.mu.Lock()
	d.known[id] = true
	d.mu.Unlock()
}

func (d *TmuxDriver) forget(id string) {
	d.mu.Lock()
	delete(d.known, id)
	d.mu.Unlock()
}

func (d *TmuxDriver) knows(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.known[id]
}

func (d *TmuxDriver) Start(ctx context.Context, worktreePath, prompt string) (string, error) {
	id := "rh-" + uuid.NewString()[:8]
	args := []string{"new-session", "-d", "-s", id, "-c", worktreePath, d.agent}
	args = append(args, d.args...)
	args = append(args, prompt)
	if _, err := d.tmux(ctx, args...); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	// Keep the pane around after the agent exits so its final lines,
	// the completion marker included, can still be captured.
	if _, err := d.tmux(ctx, "set-option", "-t", id, "remain-on-exit", "on"); err != nil {
		_, _ = d.tmux(ctx, "kill-session", "-t", id)
		return "", fmt.Errorf("start session: %w", err)
	}
	d.remember(id)
	return id, nil
}

func (d *TmuxDriver) SendInput(ctx context.Context, sessionID, text string) error {
	if !d.IsAlive(ctx, sessionID) {
		return fmt.Errorf("send input to %s: %w", sessionID, ErrSessionGone)
	}
	// -l keeps the text literal; the Enter keypress goes separately.
	if _, err := d.tmux(ctx, "send-keys", "-t", sessionID, "-l", text); err != nil {
		return err
	}
	_, err := d.tmux(ctx, "send-keys", "-t", sessionID, "Enter")
	return err
}

// RawState captures the session's pane. The pane outlives the agent
// process, so a session that printed its final lines and exited is reported
// dead together with that output; the monitor decides what the death means.
// A vanished session yields dead with empty output.
func (d *TmuxDriver) RawState(ctx context.Context, sessionID string) (RawState, error) {
	if !d.knows(sessionID) {
		return RawState{}, fmt.Errorf("raw state of %s: %w", sessionID, ErrSessionGone)
	}
	out, err := d.tmux(ctx, "capture-pane", "-t", sessionID, "-p", "-J", "-S", "-200")
	if err != nil {
		return RawState{Alive: false}, nil
	}
	return RawState{Alive: !d.paneDead(ctx, sessionID), Output: string(out)}, nil
}

// paneDead reports whether the session's process has exited while the pane
// remains (remain-on-exit).
func (d *TmuxDriver) paneDead(ctx context.Context, sessionID string) bool {
	out, err := d.tmux(ctx, "list-panes", "-t", sessionID, "-F", "#{pane_dead}")
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(out)) != "0"
}

func (d *TmuxDriver) Interrupt(ctx context.Context, sessionID string) error {
	if !d.IsAlive(ctx, sessionID) {
		return fmt.Errorf("interrupt %s: %w", sessionID, ErrSessionGone)
	}
	_, err := d.tmux(ctx, "send-keys", "-t", sessionID, "Escape")
	return err
}

func (d *TmuxDriver) Stop(ctx context.Context, sessionID string) error {
	if !d.knows(sessionID) {
		return fmt.Errorf("stop %s: %w", sessionID, ErrSessionGone)
	}
	d.forget(sessionID)
	if !d.isAliveTmux(ctx, sessionID) {
		return nil
	}
	_, err := d.tmux(ctx, "kill-session", "-t", sessionID)
	return err
}

func (d *TmuxDriver) isAliveTmux(ctx context.Context, sessionID string) bool {
	return exec.CommandContext(ctx, "tmux", "-L", socketName,
		"has-session", "-t", sessionID).Run() == nil
}

// IsAlive reports whether the session's process still runs. Session ids
// are namespaced by the dedicated socket, so a CLI process can address
// sessions another process started.
func (d *TmuxDriver) IsAlive(ctx context.Context, sessionID string) bool {
	return d.isAliveTmux(ctx, sessionID) && !d.paneDead(ctx, sessionID)
}
