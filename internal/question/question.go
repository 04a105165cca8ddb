// Package question aggregates "agent needs human input" events from every
// concurrent session into one prioritized queue, and routes answers back to
// the session that asked.
package question

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"reviewherd/internal/discovery"
	"reviewherd/internal/session"
)

// Status tracks a question through its life. Answered and skipped are
// terminal; snoozed questions come back when their snooze expires.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusSkipped  Status = "skipped"
	StatusSnoozed  Status = "snoozed"
)

// PatchSummary sizes the change the session has staged so far.
type PatchSummary struct {
	Files      int `json:"files"`
	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
}

// TestResult is the session's latest test run, if any.
type TestResult struct {
	Passed   bool   `json:"passed"`
	Duration string `json:"duration,omitempty"`
}

// Context is what a human needs to answer without attaching to the session.
type Context struct {
	PatchSummary *PatchSummary `json:"patch_summary,omitempty"`
	TestResult   *TestResult   `json:"test_result,omitempty"`
	Risk         string        `json:"risk,omitempty"`
	Excerpt      string        `json:"excerpt,omitempty"`
}

// Question is one queued request for human input. Never deleted; terminal
// statuses stay in the file until the run archives it.
type Question struct {
	ID         string              `json:"id"`
	SessionID  string              `json:"session_id"`
	Repo       string              `json:"repo"`
	Priority   discovery.Priority  `json:"priority"`
	Status     Status              `json:"status"`
	Context    Context             `json:"context"`
	Prompts    []session.AskPrompt `json:"questions"`
	Answer     string              `json:"answer,omitempty"`
	SnoozeTill *time.Time          `json:"snooze_until,omitempty"`
	AskedAt    time.Time           `json:"asked_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
}

// New builds a pending question from a wait-info record.
func New(sessionID, repo string, priority discovery.Priority, info session.WaitInfo) Question {
	q := Question{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Repo:      repo,
		Priority:  priority,
		Status:    StatusPending,
		Context:   Context{Risk: string(info.Risk), Excerpt: info.Context},
		Prompts:   info.Prompts,
		AskedAt:   info.DetectedAt,
	}
	if info.Tests != nil {
		q.Context.TestResult = &TestResult{Passed: info.Tests.Passed, Duration: info.Tests.Duration}
	}
	if len(q.Prompts) == 0 {
		prompt := session.AskPrompt{Prompt: info.Context}
		for _, o := range info.Options {
			prompt.Options = append(prompt.Options, session.PromptOption{Label: o})
		}
		q.Prompts = []session.AskPrompt{prompt}
	}
	return q
}

// Eligible reports whether the question currently needs a human: pending,
// or snoozed past its snooze time.
func (q Question) Eligible(now time.Time) bool {
	switch q.Status {
	case StatusPending:
		return true
	case StatusSnoozed:
		return q.SnoozeTill == nil || !now.Before(*q.SnoozeTill)
	default:
		return false
	}
}

// SortEligible orders questions critical first, then by arrival. The sort
// is stable so same-priority questions keep queue order.
func SortEligible(qs []Question, now time.Time) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		if q.Eligible(now) {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].AskedAt.Before(out[j].AskedAt)
	})
	return out
}

// terminal reports whether the question can no longer change status.
func (q Question) terminal() bool {
	return q.Status == StatusAnswered || q.Status == StatusSkipped
}
