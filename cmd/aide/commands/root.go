// Package commands implements the aide CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aide",
		Short: "aide - self-hosted personal AI assistant",
		Long: `aide is the server core of a self-hosted personal AI assistant:
persistent conversation threads with long-term memory, a streamed
tool-using model loop, and a durable job scheduler for recurring and
one-shot tasks.

Examples:
  aide serve
  aide serve --config ./config.yaml`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
