package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/plan"
	"github.com/conveyor-ci/conveyor/worker/cv"
)

func testConfig() *Config {
	return &Config{
		PublicConfig: PublicConfig{
			ClientID:                      "worker-1",
			Command:                       []string{"true"},
			HeartbeatIntervalMilliseconds: 5,
			MasterHost:                    "localhost",
			MasterPort:                    8010,
			PlanPath:                      "conveyor-plan.yml",
			WaitBackoffMilliseconds:       1,
		},
	}
}

func testCollection() plan.Collection {
	return plan.Collection{
		{FilePath: "tests/test_auth.py", FunctionName: "test_login"},
		{FilePath: "tests/test_auth.py", FunctionName: "test_logout"},
		{FilePath: "tests/test_cart.py", FunctionName: "test_checkout", VariationID: "guest"},
	}
}

func passingExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
		return &plan.Result{
			Test:      test,
			TestIndex: rc.CurrentTestIndex,
			Status:    plan.ResultSuccess,
		}, nil
	})
}

func newTestWorker(t *testing.T, fake *cv.FakeDispatch, executor Executor, warnings *WarningBroadcaster) *Worker {
	t.Helper()
	w, err := newWorker(testConfig(), testCollection(), executor, warnings, cv.FakeDispatchClientFactory(fake))
	require.NoError(t, err)
	return w
}

func dispatchTest(index int) cvdispatch.TestClaimResponse {
	return cvdispatch.TestClaimResponse{
		Status:    cvdispatch.StatusDispatch,
		TestIndex: index,
	}
}

func TestRunAllTests(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0), dispatchTest(1), dispatchTest(2))
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{
		"connect",
		"validate-collection",
		"claim-test",
		"finished-test",
		"claim-test",
		"finished-test",
		"claim-test",
		"finished-test",
		"claim-test",
		"disconnect",
	}, fake.Calls())
	require.True(t, w.RunContext().Completed())
	require.Equal(t, 1, fake.Disconnects())

	results := fake.Results()
	require.Len(t, results, 3)
	for i, blob := range results {
		result, err := plan.UnmarshalResult(blob)
		require.NoError(t, err)
		require.Equal(t, i, result.TestIndex)
		require.Equal(t, plan.ResultSuccess, result.Status)
	}
}

func TestCollectionMismatch(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.SetValid(false)
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	var mismatch *CollectionMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "worker-1", mismatch.ClientID)

	// No test was claimed, and the worker disconnected exactly once.
	require.Equal(t, []string{"connect", "validate-collection", "disconnect"}, fake.Calls())
	require.Equal(t, 1, fake.Disconnects())
	require.False(t, w.RunContext().Completed())
}

func TestProtocolErrorOnClaim(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(cvdispatch.TestClaimResponse{Status: cvdispatch.StatusProtocolError})
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	var fault *ProtocolFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, "claim-test", fault.Step)

	// A protocol failure is not a normal exit: no disconnect, not complete.
	require.Equal(t, 0, fake.Disconnects())
	require.False(t, w.RunContext().Completed())
}

func TestProtocolErrorOnAcknowledgement(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0))
	fake.ScriptAcks(cvdispatch.FinishedTestResponse{Status: cvdispatch.StatusProtocolError})
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	var fault *ProtocolFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, "finished-test", fault.Step)

	// The result had already been submitted when the error came back.
	require.Len(t, fake.Results(), 1)
	require.Equal(t, 0, fake.Disconnects())
	require.False(t, w.RunContext().Completed())
}

func TestTerminateRequest(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(cvdispatch.TestClaimResponse{Status: cvdispatch.StatusShouldTerminate})
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	require.NoError(t, err)
	require.True(t, w.RunContext().Completed())
	require.Equal(t, 1, fake.Disconnects())
	require.Empty(t, fake.Results())
}

func TestWaitingBacksOffAndRetries(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(
		cvdispatch.TestClaimResponse{Status: cvdispatch.StatusWaitingForClients},
		cvdispatch.TestClaimResponse{Status: cvdispatch.StatusWaitingForClients},
		dispatchTest(0),
	)
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	require.NoError(t, err)

	// Two waits, one dispatch, one final claim answered finished-all-tests.
	require.Equal(t, 4, fake.CallCount("claim-test"))
	require.Len(t, fake.Results(), 1)
	require.True(t, w.RunContext().Completed())
}

func TestDispatchedIndexOutOfRange(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(7))
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	var fault *ProtocolFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, 0, fake.CallCount("finished-test"))
}

func TestInterruptionTearsDownAndPropagates(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0))

	ctx, cancel := context.WithCancel(context.Background())
	var order []string
	executor := ExecutorFunc(func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
		rc.Defer(func() { order = append(order, "registered first") })
		rc.Defer(func() { order = append(order, "registered second") })
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w := newTestWorker(t, fake, executor, NewWarningBroadcaster())

	err := w.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)

	// Teardown ran: cleanups flushed most recent first, heartbeat joined.
	require.Equal(t, []string{"registered second", "registered first"}, order)
	select {
	case <-w.heartbeatDone:
	default:
		t.Error("heartbeat goroutine still running after Run returned")
	}

	// The interrupted test's result was never submitted, and an interrupted
	// run does not disconnect.
	require.Empty(t, fake.Results())
	require.Equal(t, 0, fake.Disconnects())
	require.False(t, w.RunContext().Completed())
}

func TestTeardownOnTransportFailure(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.FailWith("claim-test", errors.New("connection refused"))
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "claim-test")

	select {
	case <-w.heartbeatDone:
	default:
		t.Error("heartbeat goroutine still running after Run returned")
	}
	require.Equal(t, 0, fake.Disconnects())
}

func TestConnectFailure(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.FailWith("connect", errors.New("connection refused"))
	w := newTestWorker(t, fake, passingExecutor(), NewWarningBroadcaster())

	err := w.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect")
	require.Equal(t, []string{"connect"}, fake.Calls())
}

func TestHeartbeatBeatsDuringRun(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0))
	executor := ExecutorFunc(func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
		time.Sleep(30 * time.Millisecond)
		return &plan.Result{Test: test, TestIndex: rc.CurrentTestIndex, Status: plan.ResultSuccess}, nil
	})
	w := newTestWorker(t, fake, executor, NewWarningBroadcaster())

	err := w.Run(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, fake.KeepAlives(), 1)

	// Once the run is over no further beats arrive.
	beats := fake.KeepAlives()
	time.Sleep(25 * time.Millisecond)
	require.Equal(t, beats, fake.KeepAlives())
}

func TestSeparateClientHandles(t *testing.T) {
	fake := cv.NewFakeDispatch()
	invocations := 0
	factory := func(rootURL string, credentials *cvclient.Credentials) (cv.Dispatch, error) {
		invocations++
		return fake, nil
	}
	_, err := newWorker(testConfig(), testCollection(), passingExecutor(), NewWarningBroadcaster(), factory)
	require.NoError(t, err)

	// One handle for the run loop, one for the heartbeat sender.
	require.Equal(t, 2, invocations)
}

func TestRunContextCleanups(t *testing.T) {
	t.Run("flush runs in reverse order", func(t *testing.T) {
		rc := NewRunContext("worker-1")
		var order []string
		rc.Defer(func() { order = append(order, "a") })
		rc.Defer(func() { order = append(order, "b") })
		rc.Defer(func() { order = append(order, "c") })
		rc.flushScopes()
		require.Equal(t, []string{"c", "b", "a"}, order)
	})

	t.Run("panicking cleanup does not stop the rest", func(t *testing.T) {
		rc := NewRunContext("worker-1")
		var order []string
		rc.Defer(func() { order = append(order, "a") })
		rc.Defer(func() { panic("boom") })
		rc.Defer(func() { order = append(order, "c") })
		rc.flushScopes()
		require.Equal(t, []string{"c", "a"}, order)
	})

	t.Run("flush is idempotent", func(t *testing.T) {
		rc := NewRunContext("worker-1")
		calls := 0
		rc.Defer(func() { calls++ })
		rc.flushScopes()
		rc.flushScopes()
		require.Equal(t, 1, calls)
	})
}
