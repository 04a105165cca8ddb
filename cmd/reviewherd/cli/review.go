package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"reviewherd/internal/config"
	"reviewherd/internal/discovery"
	"reviewherd/internal/orchestrator"
	"reviewherd/internal/session"
)

var (
	reviewMode      string
	reviewDryRun    bool
	reviewParallel  int
	reviewMaxRepos  int
	reviewMaxMin    int
	reviewMaxQs     int
	reviewKeepWTs   bool
	reviewThreshold string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run one review pass over all discovered repositories",
	RunE:  runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewMode, "mode", "", "review mode: plan or apply")
	reviewCmd.Flags().BoolVar(&reviewDryRun, "dry-run", false, "discover and plan only, start nothing")
	reviewCmd.Flags().IntVar(&reviewParallel, "parallel", 0, "max concurrent sessions")
	reviewCmd.Flags().IntVar(&reviewMaxRepos, "max-repos", -1, "stop after this many repos (0 = unlimited)")
	reviewCmd.Flags().IntVar(&reviewMaxMin, "max-runtime", -1, "stop after this many minutes (0 = unlimited)")
	reviewCmd.Flags().IntVar(&reviewMaxQs, "max-questions", -1, "stop after this many questions (0 = unlimited)")
	reviewCmd.Flags().BoolVar(&reviewKeepWTs, "keep-worktrees", false, "preserve worktrees after completion")
	reviewCmd.Flags().StringVar(&reviewThreshold, "threshold", "", "minimum priority: all|low|normal|high|critical")
	rootCmd.AddCommand(reviewCmd)
}

// applyReviewFlags overlays command-line flags onto the loaded config so a
// flag always beats the file.
func applyReviewFlags(cmd *cobra.Command, cfg *config.Config) {
	if reviewMode != "" {
		cfg.Review.Mode = reviewMode
	}
	if reviewThreshold != "" {
		cfg.Discovery.Threshold = reviewThreshold
	}
	if reviewParallel > 0 {
		cfg.Review.Parallel = reviewParallel
	}
	if reviewMaxRepos >= 0 {
		cfg.Review.MaxRepos = reviewMaxRepos
	}
	if reviewMaxMin >= 0 {
		cfg.Review.MaxRuntimeMin = reviewMaxMin
	}
	if reviewMaxQs >= 0 {
		cfg.Review.MaxQuestions = reviewMaxQs
	}
	if cmd.Flags().Changed("keep-worktrees") {
		cfg.Review.KeepWorktrees = reviewKeepWTs
	}
	cfg.Review.DryRun = reviewDryRun
}

func newDriver(cfg *config.Config) session.Driver {
	if session.TmuxAvailable() {
		return session.NewTmuxDriver(cfg.Session.Agent, cfg.Session.AgentArgs)
	}
	slog.Info("tmux not found, running agents as direct subprocesses")
	return session.NewProcDriver(cfg.Session.Agent, cfg.Session.AgentArgs)
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyReviewFlags(cmd, cfg)
	if cfg.Discovery.Owner == "" {
		return fmt.Errorf("discovery.owner is not configured")
	}

	holder := newHolder(cfg.Review.Mode)
	store, err := openStateStore(cfg, holder)
	if err != nil {
		return err
	}
	cache := openCache(cfg)
	if cache != nil {
		defer cache.Close()
	}

	o, err := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Store:  store,
		Queue:  openQueue(cfg, holder),
		Driver: newDriver(cfg),
		Source: discovery.NewClient(cfg.Discovery.APIBaseURL, config.GitHubToken()),
		Cache:  cache,
		Holder: holder,
	})
	if err != nil {
		return err
	}

	summary, err := o.Run(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOut {
		out, err := summary.JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(summary.Text())
	}
	if code := summary.ExitCode(); code != 0 {
		return fmt.Errorf("run ended with status %s (%d repos failed)",
			summary.Status, summary.ReposFailed)
	}
	return nil
}
