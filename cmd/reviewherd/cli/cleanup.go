package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"reviewherd/internal/state"
	"reviewherd/internal/worktree"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [run-id...]",
	Short: "Remove leftover worktrees and run directories",
	Long: "Without arguments, lists run directories left under work_root.\n" +
		"With run ids, removes those runs' worktrees and directories.",
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	holder := newHolder("cleanup")

	if len(args) == 0 {
		return listRunDirs(cfg.WorkRoot)
	}

	for _, runID := range args {
		if !state.ValidRunID(runID) {
			return fmt.Errorf("invalid run id %q", runID)
		}
		wt, err := worktree.NewManager(cfg.WorkRoot, runID, holder)
		if err != nil {
			return err
		}
		if err := wt.CleanupRun(cmd.Context()); err != nil {
			return fmt.Errorf("cleanup %s: %w", runID, err)
		}
		fmt.Printf("removed %s\n", runID)
	}
	return nil
}

func listRunDirs(workRoot string) error {
	entries, err := os.ReadDir(workRoot)
	if os.IsNotExist(err) {
		fmt.Println("nothing to clean up")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read work root: %w", err)
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() && state.ValidRunID(e.Name()) {
			runs = append(runs, e.Name())
		}
	}
	if jsonOut {
		printJSON(runs)
		return nil
	}
	if len(runs) == 0 {
		fmt.Println("nothing to clean up")
		return nil
	}
	for _, id := range runs {
		fmt.Println(filepath.Join(workRoot, id))
	}
	fmt.Printf("\nrun 'rh cleanup <run-id>' to remove\n")
	return nil
}
