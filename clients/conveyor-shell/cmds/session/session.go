// Package session implements the session interaction subcommands.
package session

import (
	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/root"
)

var (
	// Command is the root of the session subtree.
	Command = &cobra.Command{
		Use:   "session",
		Short: "Provides dispatch-session related actions and commands.",
	}
)

func init() {
	root.Command.AddCommand(Command)
}
