// Package watch contains the watch command, which follows the event stream
// of a dispatch session.
package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/streadway/amqp"
	"github.com/taskcluster/pulse-go/pulse"

	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatchevents"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/root"
	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the master's session events until the run finishes",
		Long: "Streams worker-connected, worker-expired, test-finished and run-finished\n" +
			"events as they happen. By default the command reads the master's own\n" +
			"event feed; set watch.amqpUrl to consume from an AMQP broker the\n" +
			"master publishes to instead.",
		RunE: runWatch,
	}
	cmd.Flags().Bool("follow", false, "Keep watching after the run finished.")

	root.Command.AddCommand(cmd)

	// register config options for this command
	config.RegisterOptions("watch", map[string]config.OptionDefinition{
		"amqpUrl": {
			Description: "AMQP URL to consume master events from; empty means read the master's own event feed",
			Default:     "",
			Env:         "CONVEYOR_AMQP_URL",
			Validate: func(value interface{}) error {
				if _, ok := value.(string); !ok {
					return errors.New("must be a string")
				}
				return nil
			},
		},
	}) // end RegisterOptions
}

func runWatch(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")

	if amqpURL, _ := config.Configuration["watch"]["amqpUrl"].(string); amqpURL != "" {
		return watchAMQP(cmd.OutOrStdout(), amqpURL, follow)
	}
	return watchFeed(cmd.OutOrStdout(), follow)
}

// feedFrame is one message on the master's event feed.
type feedFrame struct {
	Exchange   string          `json:"exchange"`
	RoutingKey string          `json:"routingKey"`
	Payload    json.RawMessage `json:"payload"`
}

// watchFeed follows the master's own websocket event feed.
func watchFeed(out io.Writer, follow bool) error {
	feedURL := config.MasterURL() + "/api/dispatch/v1/events/feed"

	// Sign the URL if credentials are available; a master started without
	// an access token serves the feed unauthenticated.
	if config.Credentials != nil {
		signed, err := config.Credentials.SignURL(feedURL)
		if err != nil {
			return fmt.Errorf("failed to sign feed URL, error: %s", err)
		}
		feedURL = signed
	}

	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(feedURL, "http", "ws", 1), nil)
	if err != nil {
		return fmt.Errorf("could not connect to event feed of %s: %v", config.MasterURL(), err)
	}
	defer conn.Close()

	for {
		var frame feedFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("event feed closed: %v", err)
		}

		switch {
		case strings.HasSuffix(frame.Exchange, "/worker-connected"):
			var m cvdispatchevents.WorkerConnectedMessage
			if err := json.Unmarshal(frame.Payload, &m); err == nil {
				renderConnected(out, &m)
				continue
			}
		case strings.HasSuffix(frame.Exchange, "/worker-expired"):
			var m cvdispatchevents.WorkerExpiredMessage
			if err := json.Unmarshal(frame.Payload, &m); err == nil {
				renderExpired(out, &m)
				continue
			}
		case strings.HasSuffix(frame.Exchange, "/test-finished"):
			var m cvdispatchevents.TestFinishedMessage
			if err := json.Unmarshal(frame.Payload, &m); err == nil {
				renderTestFinished(out, &m)
				continue
			}
		case strings.HasSuffix(frame.Exchange, "/run-finished"):
			var m cvdispatchevents.RunFinishedMessage
			if err := json.Unmarshal(frame.Payload, &m); err == nil {
				renderRunFinished(out, &m)
				if !follow {
					return nil
				}
				continue
			}
		}

		// unknown exchange or undecodable payload, show it raw
		fmt.Fprintf(out, "%s %s %s\n", frame.Exchange, frame.RoutingKey, frame.Payload)
	}
}

// watchAMQP consumes the master's events from an AMQP broker.
func watchAMQP(out io.Writer, amqpURL string, follow bool) error {
	done := make(chan bool, 1)

	conn := pulse.NewConnection("", "", amqpURL)
	conn.Consume(
		"", // empty name implies anonymous queue
		func(message interface{}, delivery amqp.Delivery) {
			switch m := message.(type) {
			case *cvdispatchevents.WorkerConnectedMessage:
				renderConnected(out, m)
			case *cvdispatchevents.WorkerExpiredMessage:
				renderExpired(out, m)
			case *cvdispatchevents.TestFinishedMessage:
				renderTestFinished(out, m)
			case *cvdispatchevents.RunFinishedMessage:
				renderRunFinished(out, m)
				if !follow {
					select {
					case done <- true:
					default:
					}
				}
			default:
				fmt.Fprintf(out, "%s %s\n", delivery.Exchange, string(delivery.Body))
			}
		},
		1,    // prefetch 1 message at a time
		true, // auto acknowledge messages
		cvdispatchevents.WorkerConnected{},
		cvdispatchevents.WorkerExpired{},
		cvdispatchevents.TestFinished{},
		cvdispatchevents.RunFinished{})

	<-done
	return nil
}

func renderConnected(out io.Writer, m *cvdispatchevents.WorkerConnectedMessage) {
	fmt.Fprintf(out, "worker %s connected to session %s\n", m.ClientID, m.SessionID)
}

func renderExpired(out io.Writer, m *cvdispatchevents.WorkerExpiredMessage) {
	if m.RequeuedIndex != nil {
		fmt.Fprintf(out, "worker %s expired, test %d requeued\n", m.ClientID, *m.RequeuedIndex)
		return
	}
	fmt.Fprintf(out, "worker %s expired\n", m.ClientID)
}

func renderTestFinished(out io.Writer, m *cvdispatchevents.TestFinishedMessage) {
	fmt.Fprintf(out, "test %d %s by %s (%dms)\n", m.TestIndex, m.Status, m.ClientID, m.DurationMilliseconds)
}

func renderRunFinished(out io.Writer, m *cvdispatchevents.RunFinishedMessage) {
	fmt.Fprintf(out, "run finished: %d tests completed in %dms\n", m.CompletedTests, m.DurationMilliseconds)
}
