// Package configCmd implements the config subcommands.
package configCmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/root"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

var (
	// Command holds the `conveyor config` command definition
	// we attach `conveyor config [...]` subcommands on it
	Command = &cobra.Command{
		Use:   "config",
		Short: "Get/set conveyor shell client configuration options.",
		RunE:  cmdConfig,
	}
)

func init() {
	// set flags
	Command.Flags().StringP("output", "o", "", "Write output to file [default: -]")
	Command.Flags().StringP("format", "f", "yaml", "Select output format [default: yaml]")

	// register
	root.Command.AddCommand(Command)

	// register config options for this command
	config.RegisterOptions("config", map[string]config.OptionDefinition{
		"masterUrl": {
			Description: "Base URL of the dispatch master",
			Default:     "http://localhost:8010",
			Env:         "CONVEYOR_MASTER_URL",
			Validate:    isString,
		},
		"clientId": {
			Description: "ClientId to be used for authenticating requests",
			Default:     "",
			Env:         "CONVEYOR_CLIENT_ID",
			Validate:    isString,
		},
		"accessToken": {
			Description: "AccessToken to be used for authenticating requests",
			Default:     "",
			Env:         "CONVEYOR_ACCESS_TOKEN",
			Validate:    isString,
		},
	}) // end RegisterOptions
}

func cmdConfig(cmd *cobra.Command, args []string) error {
	// redirect single-value cases to 'config get <key>'
	// get supports the exact same flags so no big deal
	if len(args) > 0 {
		return cmdGet(cmd, args)
	}

	// select formatter
	var formatter func(interface{}) []byte
	format, _ := cmd.Flags().GetString("format")

	switch format {
	case "yaml":
		formatter = formatYAML
	case "json":
		formatter = formatJSON
	default:
		return fmt.Errorf("unsupported output format '%s'", format)
	}

	// set output to file if necessary
	if output, _ := cmd.Flags().GetString("output"); len(output) != 0 {
		file, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file '%s', error: %s", output, err)
		}
		defer file.Close()
		cmd.SetOut(file)
		cmd.SetErr(file)
	}

	// write output
	if _, err := cmd.OutOrStdout().Write(formatter(config.Configuration)); err != nil {
		return fmt.Errorf("error writing result, error: %s", err)
	}

	return nil
}
