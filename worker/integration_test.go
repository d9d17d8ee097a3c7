package worker

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/internal/httputil"
	"github.com/conveyor-ci/conveyor/master"
	"github.com/conveyor-ci/conveyor/plan"
)

const integrationPort uint16 = 18010

// Spins up a real master on loopback and drives two authenticated workers
// through a complete session against it, exercising the full protocol over
// HTTP rather than fakes.
func TestWorkersCompleteRunOverLoopback(t *testing.T) {
	masterConfig := master.DefaultConfig()
	masterConfig.Port = integrationPort
	masterConfig.ExpectedWorkers = 2
	masterConfig.AccessToken = "integration-token"
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	masterConfig.Logger = logger

	m, err := master.New(masterConfig, &plan.Plan{Name: "loopback", Tests: testCollection()})
	require.NoError(t, err)

	serverCtx, stopServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- m.Serve(serverCtx)
	}()
	defer func() {
		stopServer()
		require.NoError(t, <-serverDone)
	}()

	require.NoError(t, httputil.WaitForLocalTCPListener(integrationPort, 30*time.Second))

	workerConfig := func(clientID string) *Config {
		c := testConfig()
		c.ClientID = clientID
		c.MasterPort = integrationPort
		c.HeartbeatIntervalMilliseconds = 100
		c.WaitBackoffMilliseconds = 10
		c.AccessToken = "integration-token"
		return c
	}
	runWorker := func(clientID string) error {
		w, err := New(workerConfig(clientID), testCollection(), passingExecutor(), NewWarningBroadcaster())
		if err != nil {
			return err
		}
		return w.Run(context.Background())
	}

	group := &errgroup.Group{}
	group.Go(func() error { return runWorker("worker-1") })
	group.Go(func() error { return runWorker("worker-2") })
	require.NoError(t, group.Wait())

	dispatch := cvdispatch.New(&cvclient.Credentials{
		ClientID:    "observer",
		AccessToken: "integration-token",
	}, fmt.Sprintf("http://localhost:%v", integrationPort))
	status, err := dispatch.Status()
	require.NoError(t, err)
	require.Equal(t, master.SessionFinished, status.State)
	require.Equal(t, 3, status.TotalTests)
	require.Equal(t, 3, status.CompletedTests)
	require.Len(t, status.Workers, 2)
	completed := 0
	for _, info := range status.Workers {
		require.Equal(t, "disconnected", info.State)
		completed += info.CompletedTests
	}
	require.Equal(t, 3, completed)
}
