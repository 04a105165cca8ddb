package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"reviewherd/internal/tui"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Interactive question inbox",
	RunE:  runInbox,
}

func init() {
	rootCmd.AddCommand(inboxCmd)
}

func runInbox(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	queue := openQueue(cfg, newHolder("inbox"))

	model := tui.NewModel(queue, newDriver(cfg))
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("inbox error: %w", err)
	}
	return nil
}
