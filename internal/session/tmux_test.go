package session

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

// waitDead polls until the session's process has exited.
func waitDead(t *testing.T, d *TmuxDriver, id string) RawState {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for {
		raw, err := d.RawState(ctx, id)
		if err != nil {
			t.Fatalf("raw state: %v", err)
		}
		if !raw.Alive {
			return raw
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still alive after deadline:\n%s", raw.Output)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestTmuxRawStateKeepsFinalOutputAfterExit(t *testing.T) {
	requireTmux(t)
	ctx := context.Background()
	d := NewTmuxDriver("sh", []string{"-c"})

	id, err := d.Start(ctx, t.TempDir(), "echo reviewing; echo '"+CompleteMarker+"'")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(ctx, id)

	raw := waitDead(t, d, id)
	if !strings.Contains(raw.Output, CompleteMarker) {
		t.Fatalf("final output lost on exit:\n%s", raw.Output)
	}
	m := NewMonitor(30*time.Second, nil)
	if got := m.DetectRawState(&History{}, raw, time.Now()); got != StateComplete {
		t.Fatalf("state = %v, want complete", got)
	}
}

func TestTmuxStopRemovesDeadSession(t *testing.T) {
	requireTmux(t)
	ctx := context.Background()
	d := NewTmuxDriver("sh", []string{"-c"})

	id, err := d.Start(ctx, t.TempDir(), "true")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDead(t, d, id)

	if err := d.Stop(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.isAliveTmux(ctx, id) {
		t.Fatal("session survived stop")
	}
}
