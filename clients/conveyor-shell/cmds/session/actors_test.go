package session

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/config"
)

type FakeServerSuite struct {
	suite.Suite
	testServer *httptest.Server
	stopCalls  int
}

func (suite *FakeServerSuite) SetupSuite() {
	// set up a fake server that knows how to answer the `workers()` method
	handler := http.NewServeMux()

	handler.HandleFunc("/api/dispatch/v1/workers", workersHandler)
	handler.HandleFunc("/api/dispatch/v1/stop", func(w http.ResponseWriter, _ *http.Request) {
		suite.stopCalls++
		w.WriteHeader(http.StatusOK)
	})

	suite.testServer = httptest.NewServer(handler)

	// set the base URL the subcommands use to point to the fake server
	config.SetMasterURL(suite.testServer.URL)
}

func (suite *FakeServerSuite) TearDownSuite() {
	suite.testServer.Close()
	config.SetMasterURL("")
}

func TestFakeServerSuite(t *testing.T) {
	suite.Run(t, new(FakeServerSuite))
}

// returns the worker registry on request
func workersHandler(w http.ResponseWriter, _ *http.Request) {
	workers := `{
				  "workers": [
				    {
				      "clientId": "worker-1",
				      "state": "validated",
				      "lastSeen": "2026-03-30T15:49:31.389Z",
				      "inFlightIndex": 2,
				      "completedTests": 2
				    },
				    {
				      "clientId": "worker-2",
				      "state": "disconnected",
				      "lastSeen": "2026-03-30T15:48:11.104Z",
				      "completedTests": 1
				    }
				  ]
				}`
	_, _ = io.WriteString(w, workers)
}

func setUpCommand() (*bytes.Buffer, *cobra.Command) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	return buf, cmd
}

func (suite *FakeServerSuite) TestRunWorkers() {
	// set up to run a command and capture output
	buf, cmd := setUpCommand()
	cmd.Flags().Bool("all", false, "")

	// run the command
	assert.NoError(suite.T(), runWorkers(nil, nil, cmd.OutOrStdout(), cmd.Flags()))

	suite.Equal("worker-1 validated 2\n", buf.String())
}

func (suite *FakeServerSuite) TestRunWorkersAll() {
	// set up to run a command and capture output
	buf, cmd := setUpCommand()
	cmd.Flags().Bool("all", true, "")

	// run the command
	assert.NoError(suite.T(), runWorkers(nil, nil, cmd.OutOrStdout(), cmd.Flags()))

	suite.Equal("worker-1 validated 2\nworker-2 disconnected 1\n", buf.String())
}

func (suite *FakeServerSuite) TestRunStop() {
	// set up to run a command and capture output
	buf, cmd := setUpCommand()
	cmd.Flags().Bool("force", true, "")

	before := suite.stopCalls

	// run the command
	assert.NoError(suite.T(), runStop(nil, nil, cmd.OutOrStdout(), cmd.Flags()))

	suite.Equal("Session stop requested; workers will be told to terminate.\n", buf.String())
	suite.Equal(before+1, suite.stopCalls)
}
