package session

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// procSession is one agent subprocess with its accumulated output.
type procSession struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	output []byte
	done   bool
}

func (p *procSession) appendOutput(b []byte) {
	p.mu.Lock()
	p.output = append(p.output, b...)
	p.mu.Unlock()
}

func (p *procSession) snapshot() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.output
	if len(out) > 16*1024 {
		out = out[len(out)-16*1024:]
	}
	return string(out), p.done
}

// ProcDriver runs agent sessions as plain child processes. It is the
// fallback when tmux is not installed: sessions die with the orchestrator
// and cannot be attached to, but the supervision loop works the same.
type ProcDriver struct {
	agent string
	args  []string

	mu       sync.Mutex
	sessions map[string]*procSession
}

func NewProcDriver(agent string, args []string) *ProcDriver {
	return &ProcDriver{agent: agent, args: args, sessions: make(map[string]*procSession)}
}

func (d *ProcDriver) lookup(sessionID string) (*procSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionGone)
	}
	return s, nil
}

func (d *ProcDriver) Start(ctx context.Context, worktreePath, prompt string) (string, error) {
	args := append(append([]string{}, d.args...), prompt)
	cmd := exec.Command(d.agent, args...)
	cmd.Dir = worktreePath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", d.agent, err)
	}

	s := &procSession{cmd: cmd, stdin: stdin}
	id := "rh-" + uuid.NewString()[:8]
	d.mu.Lock()
	d.sessions[id] = s
	d.mu.Unlock()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				s.appendOutput(buf[:n])
			}
			if err != nil {
				break
			}
		}
		_ = cmd.Wait()
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
	}()
	return id, nil
}

func (d *ProcDriver) SendInput(ctx context.Context, sessionID, text string) error {
	s, err := d.lookup(sessionID)
	if err != nil {
		return err
	}
	if _, done := s.snapshot(); done {
		return fmt.Errorf("send input to %s: %w", sessionID, ErrSessionGone)
	}
	if _, err := io.WriteString(s.stdin, text+"\n"); err != nil {
		return fmt.Errorf("send input to %s: %w", sessionID, err)
	}
	return nil
}

func (d *ProcDriver) RawState(ctx context.Context, sessionID string) (RawState, error) {
	s, err := d.lookup(sessionID)
	if err != nil {
		return RawState{}, err
	}
	out, done := s.snapshot()
	return RawState{Alive: !done, Output: out}, nil
}

func (d *ProcDriver) Interrupt(ctx context.Context, sessionID string) error {
	s, err := d.lookup(sessionID)
	if err != nil {
		return err
	}
	if _, done := s.snapshot(); done {
		return fmt.Errorf("interrupt %s: %w", sessionID, ErrSessionGone)
	}
	return s.cmd.Process.Signal(syscall.SIGINT)
}

func (d *ProcDriver) Stop(ctx context.Context, sessionID string) error {
	s, err := d.lookup(sessionID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if _, done := s.snapshot(); done {
		return nil
	}
	_ = s.stdin.Close()
	return s.cmd.Process.Kill()
}

func (d *ProcDriver) IsAlive(ctx context.Context, sessionID string) bool {
	s, err := d.lookup(sessionID)
	if err != nil {
		return false
	}
	_, done := s.snapshot()
	return !done
}
