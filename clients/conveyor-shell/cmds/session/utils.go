package session

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/client"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

// Executor represents the function interface of the session subcommands.
type Executor func(credentials *client.Credentials, args []string, out io.Writer, flagSet *pflag.FlagSet) error

func executeHelperE(f Executor) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return f(config.Credentials, args, cmd.OutOrStdout(), cmd.Flags())
	}
}
