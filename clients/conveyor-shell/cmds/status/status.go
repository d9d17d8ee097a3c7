// Package status implements the status subcommands.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/root"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

func init() {
	root.Command.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the state of the dispatch session.",
		RunE:  runStatus,
	})
	root.Command.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check that the master is alive.",
		RunE:  runPing,
	})
}

// PingResponse is the answer of the master's ping endpoint.
type PingResponse struct {
	Alive  bool    `json:"alive"`
	Uptime float64 `json:"uptime"`
}

// SessionStatus is the answer of the master's status endpoint.
type SessionStatus struct {
	SessionID       string       `json:"sessionId"`
	Name            string       `json:"name"`
	State           string       `json:"state"`
	TotalTests      int          `json:"totalTests"`
	DispatchedTests int          `json:"dispatchedTests"`
	CompletedTests  int          `json:"completedTests"`
	Workers         []WorkerInfo `json:"workers"`
}

// WorkerInfo is one row of the master's worker registry.
type WorkerInfo struct {
	ClientID       string `json:"clientId"`
	State          string `json:"state"`
	InFlightIndex  *int   `json:"inFlightIndex"`
	CompletedTests int    `json:"completedTests"`
}

// objectFromJSONURL fetches an object from a url giving a json object
func objectFromJSONURL(url string, object interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("Bad (!= 200) status code %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(object)
}

func runPing(cmd *cobra.Command, _ []string) error {
	var ping PingResponse
	url := config.MasterURL() + "/api/dispatch/v1/ping"
	if err := objectFromJSONURL(url, &ping); err != nil {
		return err
	}
	if !ping.Alive {
		return fmt.Errorf("master at %s reports it is not alive", config.MasterURL())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "master is alive, up %.0fs\n", ping.Uptime)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	var status SessionStatus
	url := config.MasterURL() + "/api/dispatch/v1/status"
	if err := objectFromJSONURL(url, &status); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	name := status.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "session:   %s\n", status.SessionID)
	fmt.Fprintf(out, "plan:      %s\n", name)
	fmt.Fprintf(out, "state:     %s\n", status.State)
	fmt.Fprintf(out, "tests:     %d completed, %d in flight, %d total\n",
		status.CompletedTests, status.DispatchedTests, status.TotalTests)
	fmt.Fprintf(out, "workers:   %d\n", len(status.Workers))
	return nil
}
