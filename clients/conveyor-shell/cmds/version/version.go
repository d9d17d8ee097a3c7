// Package version implements the version subcommand.
package version

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	s "strings"

	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/root"
	"github.com/conveyor-ci/conveyor/internal"
)

// Asset describes a download url for a published release.
type Asset struct {
	Download string `json:"browser_download_url"`
}

// Release provided through GitHub for new conveyor shells
type Release struct {
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
	Message string  `json:"message"`
}

var (
	// Updcommand is the cobra command to check for a new update.
	Updcommand = &cobra.Command{
		Use:   "update",
		Short: "Updates conveyor",
		Run:   update,
	}
)

var (
	// Command is the cobra command representing the version subtree.
	Command = &cobra.Command{
		Use:   "version",
		Short: "Prints the conveyor version.",
		Run:   printVersion,
	}

	// VersionNumber is a formatted string with the version information.
	VersionNumber = internal.Version
)

var log = root.Logger

func init() {
	root.Command.AddCommand(Command)
	root.Command.AddCommand(Updcommand)
}

func printVersion(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "conveyor version %s\n", VersionNumber)
}

func update(cmd *cobra.Command, _ []string) {
	// Check for a new version and report download url.
	response, err := http.Get("https://api.github.com/repos/conveyor-ci/conveyor/releases/latest")
	if err != nil {
		log.Error(err)
		return
	}
	defer response.Body.Close()

	// Read the whole response body and check for any errors
	body, err := io.ReadAll(response.Body)
	if err != nil {
		log.Errorln(err)
	}

	// Parse the json data into the release structure
	R := Release{}
	if err := json.Unmarshal(body, &R); err != nil {
		log.Errorln(err)
	}

	if s.Contains(R.Message, "API rate limit") {
		log.Errorln("conveyor update: GitHub API Rate limit exceeded")
		return
	}
	// Check if conveyor is already up to date. The published version
	// shouldn't go backwards, so equality check is fine.
	if R.Name == "v"+VersionNumber {
		log.Errorln("conveyor is already on the most recent version.")
	} else {
		for _, asset := range R.Assets {
			if s.Contains(asset.Download, runtime.GOOS) {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", asset.Download)
				fmt.Fprintf(cmd.OutOrStdout(), "curl -L %s -o conveyor\n", asset.Download)
				return
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "No update available for %s\n", runtime.GOOS)
}
