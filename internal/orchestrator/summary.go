package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reviewherd/internal/discovery"
)

// Run exit statuses.
const (
	StatusCompleted   = "completed"
	StatusBudgetStop  = "budget_stop"
	StatusInterrupted = "interrupted"
	StatusDryRun      = "dry_run"
)

// Summary is the completion report for one run. It is what the CLI renders
// and what --json emits.
type Summary struct {
	RunID          string        `json:"run_id"`
	Mode           string        `json:"mode"`
	Status         string        `json:"status"`
	ReposTotal     int           `json:"repos_total"`
	ReposCompleted int           `json:"repos_completed"`
	ReposFailed    int           `json:"repos_failed"`
	ItemsFound     int           `json:"items_found"`
	Issues         int           `json:"issues"`
	PRs            int           `json:"prs"`
	QuestionsAsked int           `json:"questions_asked"`
	Duration       time.Duration `json:"duration_ns"`
	PlannedRepos   []string      `json:"planned_repos,omitempty"`
}

// ExitCode maps the summary onto the process exit status: zero only for a
// clean completion with no failed repositories.
func (s *Summary) ExitCode() int {
	if s.Status == StatusDryRun {
		return 0
	}
	if s.Status != StatusCompleted || s.ReposFailed > 0 {
		return 1
	}
	return 0
}

// JSON renders the machine-readable form.
func (s *Summary) JSON() (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return string(b), nil
}

// Text renders the human-readable form.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s): %s\n", s.RunID, s.Mode, s.Status)
	fmt.Fprintf(&b, "  repos: %d total, %d completed, %d failed\n",
		s.ReposTotal, s.ReposCompleted, s.ReposFailed)
	fmt.Fprintf(&b, "  items: %d found (%d issues, %d prs)\n", s.ItemsFound, s.Issues, s.PRs)
	fmt.Fprintf(&b, "  questions: %d asked\n", s.QuestionsAsked)
	fmt.Fprintf(&b, "  duration: %s\n", s.Duration.Round(time.Second))
	if len(s.PlannedRepos) > 0 {
		fmt.Fprintf(&b, "  would review: %s\n", strings.Join(s.PlannedRepos, ", "))
	}
	return b.String()
}

// dryRunSummary reports what a real run would schedule, without touching
// worktrees, sessions, or persisted state.
func (o *Orchestrator) dryRunSummary(startedAt time.Time, items []discovery.ScoredItem, pending []string) *Summary {
	s := &Summary{
		Mode:         o.cfg.Review.Mode,
		Status:       StatusDryRun,
		ReposTotal:   len(pending),
		ItemsFound:   len(items),
		PlannedRepos: pending,
		Duration:     o.now().Sub(startedAt),
	}
	for _, item := range items {
		if item.Kind == discovery.KindIssue {
			s.Issues++
		} else {
			s.PRs++
		}
	}
	return s
}
