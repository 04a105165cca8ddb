package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"reviewherd/internal/config"
	"reviewherd/internal/db"
	"reviewherd/internal/question"
	"reviewherd/internal/state"
)

var (
	cfgPath string
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "rh",
	Short: "reviewherd drives AI review sessions across many repositories",
	Long: "reviewherd discovers open issues and pull requests across an owner's\n" +
		"repositories, launches one coding-agent session per repository in an\n" +
		"isolated git worktree, and funnels every question the agents ask into\n" +
		"one inbox.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "reviewherd.toml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newHolder identifies this process in lock diagnostics.
func newHolder(mode string) state.LockInfo {
	return state.LockInfo{PID: os.Getpid(), StartedAt: time.Now().UTC(), Mode: mode}
}

func openStateStore(cfg *config.Config, holder state.LockInfo) (*state.Store, error) {
	if err := os.MkdirAll(cfg.StateRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return state.NewStore(cfg.StateRoot, holder), nil
}

func openQueue(cfg *config.Config, holder state.LockInfo) *question.Queue {
	return question.NewQueue(filepath.Join(cfg.StateRoot, "questions"), holder)
}

// openCache opens the work-item cache. The cache is advisory; callers
// treat a nil store as "no cache".
func openCache(cfg *config.Config) *db.Store {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Warn("item cache unavailable", "err", err)
		return nil
	}
	// Clean up orphaned WAL sidecar files if the main DB was deleted.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		_ = os.Remove(cfg.DBPath + "-shm")
		_ = os.Remove(cfg.DBPath + "-wal")
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Warn("item cache unavailable", "err", err)
		return nil
	}
	return store
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
