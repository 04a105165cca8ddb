package session

import (
	"strings"
	"time"
)

// State classifies what a session is doing right now.
type State int

const (
	StateUnknown State = iota
	StateGenerating
	StateThinking
	StateWaiting
	StateStalled
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateThinking:
		return "thinking"
	case StateWaiting:
		return "waiting"
	case StateStalled:
		return "stalled"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CompleteMarker is the line an agent prints when its review is done. The
// run prompt instructs the agent to emit it verbatim.
const CompleteMarker = "[REVIEW-COMPLETE]"

// Consecutive identical raw samples needed before the effective state flips.
const (
	waitingThreshold = 3
	stalledThreshold = 5
)

// Output below this rate counts as near-zero velocity.
const slowVelocity = 5.0 // chars per second

// History is the per-session record the monitor needs between samples:
// recent output observations plus hysteresis and stall counters. Created
// when a session starts, discarded when it ends.
type History struct {
	lastOutput   string
	lastChangeAt time.Time
	lastSampleAt time.Time

	ConsecWaiting int
	ConsecStalled int
	StallAttempts int
	Effective     State
}

// Monitor turns raw session signals into states. Detection is pure text-in
// state-out so it is testable without a live subprocess.
type Monitor struct {
	StallTimeout    time.Duration
	errorSignatures []string
}

// Signatures that mean the agent hit a wall it cannot recover from alone.
var builtinErrorSignatures = []string{
	"rate limit",
	"quota exceeded",
	"overloaded",
	"context length exceeded",
	"token limit",
	"connection refused",
	"connection reset",
	"etimedout",
	"authentication failed",
	"invalid api key",
	"panic:",
	"fatal error:",
	"out of memory",
}

// NewMonitor builds a monitor with the builtin error-signature set plus any
// configured extras. Signatures match case-insensitively.
func NewMonitor(stallTimeout time.Duration, extraSignatures []string) Monitor {
	sigs := append([]string{}, builtinErrorSignatures...)
	for _, s := range extraSignatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sigs = append(sigs, s)
		}
	}
	return Monitor{StallTimeout: stallTimeout, errorSignatures: sigs}
}

// DetectRawState classifies one sample. Precedence: completion marker, then
// error signatures, then stall by silence, then an interactive prompt at
// near-zero velocity, then velocity-based generating/thinking. Updates the
// history's output observations; hysteresis counters belong to
// ApplyHysteresis.
func (m Monitor) DetectRawState(h *History, raw RawState, now time.Time) State {
	changed := raw.Output != h.lastOutput
	var velocity float64
	if changed && !h.lastSampleAt.IsZero() {
		if dt := now.Sub(h.lastSampleAt).Seconds(); dt > 0 {
			grew := len(raw.Output) - len(h.lastOutput)
			if grew < 0 {
				grew = -grew
			}
			velocity = float64(grew) / dt
		}
	}
	if changed {
		h.lastOutput = raw.Output
		h.lastChangeAt = now
	}
	if h.lastChangeAt.IsZero() {
		h.lastChangeAt = now
	}
	h.lastSampleAt = now

	if hasCompleteLine(raw.Output) {
		return StateComplete
	}
	lower := strings.ToLower(tail(raw.Output, 4000))
	for _, sig := range m.errorSignatures {
		if strings.Contains(lower, sig) {
			return StateError
		}
	}
	if !raw.Alive {
		// Died without the marker and without a known signature.
		return StateError
	}
	if m.StallTimeout > 0 && now.Sub(h.lastChangeAt) > m.StallTimeout {
		return StateStalled
	}
	if atPrompt(raw.Output) && velocity < slowVelocity {
		return StateWaiting
	}
	if velocity < slowVelocity || hasThinkingGlyph(raw.Output) {
		return StateThinking
	}
	return StateGenerating
}

// ApplyHysteresis folds one raw sample into the session's effective state.
// error and complete take effect immediately; waiting and stalled need a
// run of consecutive samples so one noisy capture cannot park or restart a
// healthy session.
func ApplyHysteresis(h *History, raw State) State {
	switch raw {
	case StateError, StateComplete:
		h.ConsecWaiting, h.ConsecStalled = 0, 0
		h.Effective = raw
	case StateWaiting:
		h.ConsecWaiting++
		h.ConsecStalled = 0
		if h.ConsecWaiting >= waitingThreshold {
			h.Effective = StateWaiting
		}
	case StateStalled:
		h.ConsecStalled++
		h.ConsecWaiting = 0
		if h.ConsecStalled >= stalledThreshold {
			h.Effective = StateStalled
		}
	case StateGenerating, StateThinking, StateUnknown:
		h.ConsecWaiting, h.ConsecStalled = 0, 0
		h.Effective = raw
	}
	return h.Effective
}

// hasCompleteLine reports whether the marker appears as an exact standalone
// line. The start prompt mentions the marker inside an instruction sentence,
// so a pane echoing its own instructions must not count as completion.
func hasCompleteLine(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == CompleteMarker {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// lastLine returns the last non-blank line of output.
func lastLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func atPrompt(output string) bool {
	line := lastLine(output)
	if line == "" {
		return false
	}
	for _, suffix := range []string{"?", ":", ">", "[y/n]", "[y/N]", "(y/n)", "(yes/no)"} {
		if strings.HasSuffix(line, suffix) {
			return true
		}
	}
	return false
}

var thinkingGlyphs = []string{"✻", "✽", "✳", "∴", "Thinking", "Pondering"}

func hasThinkingGlyph(output string) bool {
	t := tail(output, 400)
	for _, g := range thinkingGlyphs {
		if strings.Contains(t, g) {
			return true
		}
	}
	return false
}
