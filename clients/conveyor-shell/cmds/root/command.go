// Package root defines the root of the application command tree.
package root

import (
	"github.com/spf13/cobra"
)

var (
	// Command is the root of the command tree.
	Command = setUpRootCmd()
)

// Setup persistent flags, pre-run and return root command
func setUpRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor shell client.",
		Long:  "A shell interface to a conveyor dispatch master",
	}

	verbose := rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	// function to run before every subcommand
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setUpLogs(*verbose)
	}

	return rootCmd
}
