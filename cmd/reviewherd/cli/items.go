package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	itemsPruneDays int

	itemsCmd = &cobra.Command{
		Use:   "items <owner/repo>",
		Short: "Show cached work items for a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runItems,
	}

	itemsPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Drop cached items older than the retention window",
		RunE:  runItemsPrune,
	}
)

func init() {
	itemsPruneCmd.Flags().IntVar(&itemsPruneDays, "older-than", 30, "retention window in days")
	itemsCmd.AddCommand(itemsPruneCmd)
	rootCmd.AddCommand(itemsCmd)
}

func runItems(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache := openCache(cfg)
	if cache == nil {
		return fmt.Errorf("item cache unavailable")
	}
	defer cache.Close()

	items, err := cache.ListItems(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(items)
		return nil
	}
	if len(items) == 0 {
		fmt.Println("No cached items. Run 'rh review' or 'rh review --dry-run' first.")
		return nil
	}

	if at, ok, err := cache.LastSync(cmd.Context(), cfg.Discovery.Owner); err == nil && ok {
		fmt.Printf("last synced %s\n\n", at.Format(time.RFC3339))
	}
	fmt.Printf("%-6s %-6s %-9s %-6s %s\n", "KIND", "NUM", "LEVEL", "SCORE", "TITLE")
	for _, item := range items {
		title := item.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		fmt.Printf("%-6s %-6d %-9s %-6d %s\n", item.Kind, item.Number, item.Level, item.Score, title)
	}
	return nil
}

func runItemsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache := openCache(cfg)
	if cache == nil {
		return fmt.Errorf("item cache unavailable")
	}
	defer cache.Close()

	cutoff := time.Now().AddDate(0, 0, -itemsPruneDays)
	n, err := cache.PruneStale(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d items older than %s\n", n, cutoff.Format("2006-01-02"))
	return nil
}
