// Package budget enforces per-run cost ceilings: repositories started,
// wall-clock runtime, and questions asked. Each ceiling is independently
// optional; zero means unlimited.
package budget

import (
	"sync"
	"time"
)

// Ceilings configures the optional limits for one run.
type Ceilings struct {
	MaxRepos      int // repositories started
	MaxRuntimeMin int // minutes of wall clock
	MaxQuestions  int // questions asked
}

// Tracker counts resource usage against Ceilings. Counters are monotonic
// and reset only by constructing a new Tracker at run start.
type Tracker struct {
	mu        sync.Mutex
	ceilings  Ceilings
	startedAt time.Time
	repos     int
	questions int
	now       func() time.Time
}

// NewTracker starts the run clock immediately.
func NewTracker(c Ceilings) *Tracker {
	return &Tracker{ceilings: c, startedAt: time.Now(), now: time.Now}
}

// Check reports whether every configured ceiling is still satisfied. Pure
// arithmetic over in-memory counters; safe to call every loop tick.
func (t *Tracker) Check() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ceilings.MaxRepos > 0 && t.repos >= t.ceilings.MaxRepos {
		return false
	}
	if t.ceilings.MaxRuntimeMin > 0 {
		elapsed := t.now().Sub(t.startedAt)
		if elapsed >= time.Duration(t.ceilings.MaxRuntimeMin)*time.Minute {
			return false
		}
	}
	if t.ceilings.MaxQuestions > 0 && t.questions >= t.ceilings.MaxQuestions {
		return false
	}
	return true
}

// IncrementReposStarted records one repository start. Called exactly once
// per repository whose review session actually launches; skipped repos do
// not count.
func (t *Tracker) IncrementReposStarted() {
	t.mu.Lock()
	t.repos++
	t.mu.Unlock()
}

// IncrementQuestionsAsked records one question raised to a human.
func (t *Tracker) IncrementQuestionsAsked() {
	t.mu.Lock()
	t.questions++
	t.mu.Unlock()
}

// Usage is a point-in-time snapshot for run summaries.
type Usage struct {
	ReposStarted   int
	QuestionsAsked int
	Elapsed        time.Duration
}

func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		ReposStarted:   t.repos,
		QuestionsAsked: t.questions,
		Elapsed:        t.now().Sub(t.startedAt),
	}
}
