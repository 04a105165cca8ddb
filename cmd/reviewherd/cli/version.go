package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"reviewherd/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOut {
			printJSON(map[string]string{
				"version": config.Version,
				"go":      runtime.Version(),
			})
			return
		}
		fmt.Printf("reviewherd %s (%s)\n", config.Version, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
