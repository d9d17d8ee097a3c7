package session

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	got "github.com/taskcluster/go-got"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/client"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

var listFormat string

func init() {
	workersCmd := &cobra.Command{
		Use:   "workers",
		Short: "List the workers registered with the master",
		RunE:  executeHelperE(runWorkers),
	}
	workersCmd.Flags().BoolP("all", "a", false, "Include workers that already dropped off (disconnected, expired, rejected).")
	workersCmd.Flags().StringVar(&listFormat, "format-string", "{{ .ClientID }} {{ .State }} {{ .CompletedTests }}", "Go Template string for output")

	Command.AddCommand(workersCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the master to end the run",
		Long:  "Workers are told to terminate on their next claim and tests not yet dispatched stay unrun.",
		RunE:  executeHelperE(runStop),
	}
	stopCmd.Flags().BoolP("force", "f", false, "Skip stop confirmation.")

	Command.AddCommand(stopCmd)
}

func makeDispatch(credentials *client.Credentials) *cvdispatch.Dispatch {
	var creds *cvclient.Credentials
	if credentials != nil {
		creds = credentials.ToDispatchCredentials()
	}
	return cvdispatch.New(creds, config.MasterURL())
}

// runWorkers displays the workers the master knows about, one per line,
// rendered through the --format-string template.
func runWorkers(credentials *client.Credentials, args []string, out io.Writer, flags *pflag.FlagSet) error {
	d := makeDispatch(credentials)

	workers, err := d.Workers()
	if err != nil {
		return fmt.Errorf("could not fetch workers from %s: %v", config.MasterURL(), err)
	}

	templ := template.Must(template.New("listFormat").Parse(strings.Join([]string{listFormat, "\n"}, "")))

	for _, w := range workers.Workers {
		if filterWorker(w, flags) {
			if err := templ.Execute(out, w); err != nil {
				return err
			}
		}
	}

	return nil
}

// filterWorker takes a worker and returns whether or not this worker should
// be included in the list requested by the user
func filterWorker(w cvdispatch.WorkerInfo, flags *pflag.FlagSet) bool {
	if all, _ := flags.GetBool("all"); all {
		return true
	}

	// by default only workers still part of the session are shown
	return w.State == "connected" || w.State == "validated"
}

// runStop asks the master to end the run early. Undispatched tests stay
// unrun; each worker learns about the stop on its next claim.
func runStop(credentials *client.Credentials, args []string, out io.Writer, flags *pflag.FlagSet) error {
	// ask for confirmation before stopping
	if force, _ := flags.GetBool("force"); !force && !confirmStop(out) {
		fmt.Fprintln(out, "Stop of session aborted.")
		return nil
	}

	g := got.New()
	g.Retries = 5

	req := g.NewRequest("POST", config.MasterURL()+"/api/dispatch/v1/stop", nil)

	// Sign request if credentials are available
	if credentials != nil {
		if err := credentials.SignGotRequest(req, nil); err != nil {
			return fmt.Errorf("failed to sign request, error: %s", err)
		}
	}

	if _, err := req.Send(); err != nil {
		return fmt.Errorf("could not stop the session: %v", err)
	}

	fmt.Fprintln(out, "Session stop requested; workers will be told to terminate.")
	return nil
}

// confirmStop prompts to confirm ending the run
func confirmStop(out io.Writer) bool {
	for {
		fmt.Fprint(out, "Are you sure you want to stop the run? [y/n] ")

		var c string
		fmt.Scanf("%s", &c)

		if c == "y" || c == "Y" {
			return true
		} else if c == "n" || c == "N" {
			return false
		}
		// otherwise reloop to ask again
	}
}
