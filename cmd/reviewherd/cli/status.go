package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"reviewherd/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history, interrupted-run progress, and the lock holder",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the JSON shape of the status command.
type statusReport struct {
	RunActive  bool              `json:"run_active"`
	LockHolder *state.LockInfo   `json:"lock_holder,omitempty"`
	Checkpoint *state.Checkpoint `json:"checkpoint,omitempty"`
	Runs       []runLine         `json:"runs"`
	Pending    int               `json:"pending_questions"`
}

type runLine struct {
	ID string `json:"id"`
	state.RunSummary
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	holder := newHolder("cli")
	store, err := openStateStore(cfg, holder)
	if err != nil {
		return err
	}

	report := statusReport{}
	if info, held := store.RunLockHolder(); held {
		report.RunActive = true
		report.LockHolder = &info
	}
	if cp, err := store.LoadCheckpoint(); err == nil && cp != nil {
		report.Checkpoint = cp
	}

	st, err := store.Load()
	if err != nil {
		return err
	}
	for id, summary := range st.Runs {
		report.Runs = append(report.Runs, runLine{ID: id, RunSummary: summary})
	}
	sort.Slice(report.Runs, func(i, j int) bool {
		return report.Runs[i].StartedAt.After(report.Runs[j].StartedAt)
	})

	pending, err := openQueue(cfg, holder).Pending(time.Now())
	if err != nil {
		return err
	}
	report.Pending = len(pending)

	if jsonOut {
		printJSON(report)
		return nil
	}
	printStatus(report)
	return nil
}

func printStatus(r statusReport) {
	if r.RunActive {
		fmt.Printf("run active: pid %d since %s (run %s)\n",
			r.LockHolder.PID, r.LockHolder.StartedAt.Format(time.RFC3339), r.LockHolder.RunID)
	} else {
		fmt.Println("no run active")
	}
	if cp := r.Checkpoint; cp != nil {
		fmt.Printf("interrupted run %s: %d/%d repos done, pending: %d\n",
			cp.RunID, cp.ReposCompleted, cp.ReposTotal, cp.ReposPending)
	}
	fmt.Printf("pending questions: %d\n", r.Pending)

	if len(r.Runs) == 0 {
		fmt.Println("no recorded runs")
		return
	}
	fmt.Printf("\n%-28s %-12s %-6s %-6s %-6s %s\n", "RUN", "STATUS", "REPOS", "FAIL", "QS", "FINISHED")
	limit := len(r.Runs)
	if limit > 10 {
		limit = 10
	}
	for _, line := range r.Runs[:limit] {
		fmt.Printf("%-28s %-12s %-6d %-6d %-6d %s\n",
			line.ID, line.Status, line.ReposCompleted, line.ReposFailed,
			line.QuestionsAsked, line.FinishedAt.Format(time.RFC3339))
	}
}
