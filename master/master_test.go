package master

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatchevents"
	"github.com/conveyor-ci/conveyor/plan"
)

const testSessionID = "NGU2GcbcRVuhmdDGDOaOqA"

func testPlan() *plan.Plan {
	return &plan.Plan{
		Name: "example suite",
		Tests: plan.Collection{
			{FilePath: "tests/test_auth.py", FunctionName: "test_login"},
			{FilePath: "tests/test_auth.py", FunctionName: "test_logout"},
			{FilePath: "tests/test_cart.py", FunctionName: "test_checkout", VariationID: "guest"},
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMaster(t *testing.T, config *Config) *Master {
	t.Helper()
	if config == nil {
		config = DefaultConfig()
	}
	config.SessionID = testSessionID
	config.Logger = quietLogger()
	m, err := New(config, testPlan())
	require.NoError(t, err)
	return m
}

func connectAndValidate(t *testing.T, m *Master, clientID string) {
	t.Helper()
	resp, err := m.Connect(clientID)
	require.NoError(t, err)
	require.Equal(t, testSessionID, resp.SessionID)
	validation, err := m.ValidateCollection(clientID, &cvdispatch.ValidateCollectionRequest{
		Collection: testPlan().Tests.Tuples(),
	})
	require.NoError(t, err)
	require.True(t, validation.Valid)
}

func claim(t *testing.T, m *Master, clientID string) *cvdispatch.TestClaimResponse {
	t.Helper()
	resp, err := m.ClaimTest(clientID)
	require.NoError(t, err)
	return resp
}

func claimIndex(t *testing.T, m *Master, clientID string) int {
	t.Helper()
	resp := claim(t, m, clientID)
	require.Equal(t, cvdispatch.StatusDispatch, resp.Status)
	return resp.TestIndex
}

func submitResult(t *testing.T, m *Master, clientID string, index int) *cvdispatch.FinishedTestResponse {
	t.Helper()
	result := &plan.Result{
		Test:                 testPlan().Tests[index],
		TestIndex:            index,
		Status:               plan.ResultSuccess,
		Started:              time.Now().UTC(),
		DurationMilliseconds: 7,
	}
	blob, err := result.Marshal()
	require.NoError(t, err)
	ack, err := m.FinishedTest(clientID, &cvdispatch.FinishedTestRequest{Result: blob})
	require.NoError(t, err)
	return ack
}

// backdate shifts a worker's liveness stamp into the past, standing in for
// a worker that stopped sending keep-alives.
func backdate(m *Master, clientID string, by time.Duration) {
	m.m.Lock()
	defer m.m.Unlock()
	m.workers[clientID].lastSeen = m.workers[clientID].lastSeen.Add(-by)
}

type publishedEvent struct {
	exchange   string
	routingKey string
	message    interface{}
}

type fakePublisher struct {
	m      sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(exchange, routingKey string, message interface{}) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.events = append(p.events, publishedEvent{exchange, routingKey, message})
	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

func (p *fakePublisher) onExchange(exchange string) []publishedEvent {
	p.m.Lock()
	defer p.m.Unlock()
	var matched []publishedEvent
	for _, event := range p.events {
		if event.exchange == exchange {
			matched = append(matched, event)
		}
	}
	return matched
}

func TestSingleWorkerRunsWholePlan(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")

	for want := 0; want < 3; want++ {
		require.Equal(t, want, claimIndex(t, m, "worker-1"))
		ack := submitResult(t, m, "worker-1", want)
		require.Equal(t, cvdispatch.StatusOK, ack.Status)
	}
	require.Equal(t, cvdispatch.StatusFinishedAllTests, claim(t, m, "worker-1").Status)
	require.NoError(t, m.Disconnect("worker-1"))

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, SessionFinished, status.State)
	assert.Equal(t, "example suite", status.Name)
	assert.Equal(t, 3, status.TotalTests)
	assert.Equal(t, 3, status.CompletedTests)
	assert.Equal(t, 0, status.DispatchedTests)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, "disconnected", status.Workers[0].State)
	assert.Equal(t, 3, status.Workers[0].CompletedTests)
}

func TestClaimsWaitUntilExpectedWorkersValidated(t *testing.T) {
	config := DefaultConfig()
	config.ExpectedWorkers = 2
	m := newTestMaster(t, config)

	connectAndValidate(t, m, "worker-1")
	require.Equal(t, cvdispatch.StatusWaitingForClients, claim(t, m, "worker-1").Status)

	status, err := m.Status()
	require.NoError(t, err)
	require.Equal(t, SessionWaitingForClients, status.State)

	connectAndValidate(t, m, "worker-2")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))

	status, err = m.Status()
	require.NoError(t, err)
	require.Equal(t, SessionServing, status.State)
}

func TestClaimFromUnknownWorker(t *testing.T) {
	m := newTestMaster(t, nil)
	require.Equal(t, cvdispatch.StatusProtocolError, claim(t, m, "nobody").Status)
}

func TestClaimBeforeValidation(t *testing.T) {
	m := newTestMaster(t, nil)
	_, err := m.Connect("worker-1")
	require.NoError(t, err)
	require.Equal(t, cvdispatch.StatusProtocolError, claim(t, m, "worker-1").Status)
}

func TestClaimWithTestInFlight(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))

	require.Equal(t, cvdispatch.StatusProtocolError, claim(t, m, "worker-1").Status)

	// The in-flight test is unaffected: its result is still accepted.
	require.Equal(t, cvdispatch.StatusOK, submitResult(t, m, "worker-1", 0).Status)
}

func TestResultWithoutClaim(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, cvdispatch.StatusProtocolError, submitResult(t, m, "worker-1", 0).Status)
}

func TestResultForWrongIndex(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))
	require.Equal(t, cvdispatch.StatusProtocolError, submitResult(t, m, "worker-1", 2).Status)

	// The claimed test stays in flight and can still be resolved.
	require.Equal(t, cvdispatch.StatusOK, submitResult(t, m, "worker-1", 0).Status)
}

func TestUndecodableResultBlob(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))

	ack, err := m.FinishedTest("worker-1", &cvdispatch.FinishedTestRequest{Result: []byte("not json")})
	require.NoError(t, err)
	require.Equal(t, cvdispatch.StatusProtocolError, ack.Status)
}

func TestMismatchedCollectionRejectsWorker(t *testing.T) {
	m := newTestMaster(t, nil)
	_, err := m.Connect("worker-1")
	require.NoError(t, err)

	tuples := testPlan().Tests.Tuples()
	tuples[0], tuples[1] = tuples[1], tuples[0]
	validation, err := m.ValidateCollection("worker-1", &cvdispatch.ValidateCollectionRequest{Collection: tuples})
	require.NoError(t, err)
	require.False(t, validation.Valid)

	require.Equal(t, cvdispatch.StatusProtocolError, claim(t, m, "worker-1").Status)

	workers, err := m.Workers()
	require.NoError(t, err)
	require.Len(t, workers.Workers, 1)
	require.Equal(t, "rejected", workers.Workers[0].State)
}

func TestShorterCollectionRejectsWorker(t *testing.T) {
	m := newTestMaster(t, nil)
	_, err := m.Connect("worker-1")
	require.NoError(t, err)

	tuples := testPlan().Tests.Tuples()[:2]
	validation, err := m.ValidateCollection("worker-1", &cvdispatch.ValidateCollectionRequest{Collection: tuples})
	require.NoError(t, err)
	require.False(t, validation.Valid)
}

func TestStopAnswersShouldTerminate(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))
	require.Equal(t, cvdispatch.StatusOK, submitResult(t, m, "worker-1", 0).Status)

	require.NoError(t, m.Stop())
	require.Equal(t, cvdispatch.StatusShouldTerminate, claim(t, m, "worker-1").Status)

	status, err := m.Status()
	require.NoError(t, err)
	require.Equal(t, SessionStopped, status.State)
}

func TestExpiredWorkerTestIsRequeued(t *testing.T) {
	config := DefaultConfig()
	config.ExpectedWorkers = 2
	m := newTestMaster(t, config)
	events := &fakePublisher{}
	m.UsePublisher(events)

	connectAndValidate(t, m, "worker-1")
	connectAndValidate(t, m, "worker-2")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))

	// worker-1 goes silent; worker-2 keeps beating.
	backdate(m, "worker-1", 2*m.config.LivenessTimeout())
	require.NoError(t, m.KeepAlive("worker-2"))
	m.reap(time.Now())

	workers, err := m.Workers()
	require.NoError(t, err)
	require.Equal(t, "expired", workers.Workers[0].State)
	require.Nil(t, workers.Workers[0].InFlightIndex)
	require.Equal(t, "validated", workers.Workers[1].State)

	// The abandoned test is handed out again before any fresh one.
	require.Equal(t, 0, claimIndex(t, m, "worker-2"))
	require.Equal(t, cvdispatch.StatusOK, submitResult(t, m, "worker-2", 0).Status)
	require.Equal(t, 1, claimIndex(t, m, "worker-2"))

	expired := events.onExchange("exchange/conveyor/v1/worker-expired")
	require.Len(t, expired, 1)
	message := expired[0].message.(*cvdispatchevents.WorkerExpiredMessage)
	require.Equal(t, "worker-1", message.ClientID)
	require.NotNil(t, message.RequeuedIndex)
	require.Equal(t, 0, *message.RequeuedIndex)

	// A second sweep leaves the already-expired worker alone.
	m.reap(time.Now())
	require.Len(t, events.onExchange("exchange/conveyor/v1/worker-expired"), 1)
}

func TestReapSparesBeatingWorkers(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	m.reap(time.Now())

	workers, err := m.Workers()
	require.NoError(t, err)
	require.Equal(t, "validated", workers.Workers[0].State)
}

func TestDisconnectWithTestInFlightRequeues(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))
	require.NoError(t, m.Disconnect("worker-1"))

	// A replacement picks the abandoned test up again.
	connectAndValidate(t, m, "worker-2")
	require.Equal(t, 0, claimIndex(t, m, "worker-2"))
}

func TestReconnectReplacesRegistration(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))

	// The restarted process starts from scratch: fresh record, its old
	// in-flight test back on the queue, collection unvalidated.
	_, err := m.Connect("worker-1")
	require.NoError(t, err)

	workers, err := m.Workers()
	require.NoError(t, err)
	require.Len(t, workers.Workers, 1)
	require.Equal(t, "connected", workers.Workers[0].State)
	require.Nil(t, workers.Workers[0].InFlightIndex)

	require.Equal(t, cvdispatch.StatusProtocolError, claim(t, m, "worker-1").Status)

	validation, err := m.ValidateCollection("worker-1", &cvdispatch.ValidateCollectionRequest{
		Collection: testPlan().Tests.Tuples(),
	})
	require.NoError(t, err)
	require.True(t, validation.Valid)
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))
}

func TestOperationsOnUnknownWorker(t *testing.T) {
	m := newTestMaster(t, nil)

	_, err := m.ValidateCollection("nobody", &cvdispatch.ValidateCollectionRequest{})
	var unknown *UnknownWorkerError
	require.ErrorAs(t, err, &unknown)

	_, err = m.FinishedTest("nobody", &cvdispatch.FinishedTestRequest{})
	require.ErrorAs(t, err, &unknown)
	require.ErrorAs(t, m.Disconnect("nobody"), &unknown)
	require.ErrorAs(t, m.KeepAlive("nobody"), &unknown)
	require.ErrorAs(t, m.ReportWarning("nobody", &cvdispatch.ReportWarningRequest{}), &unknown)
}

func TestResultsPersistedAndArchived(t *testing.T) {
	defer filet.CleanUp(t)
	config := DefaultConfig()
	config.ResultsDir = filepath.Join(filet.TmpDir(t, ""), "results")
	config.ArchiveResults = true
	m := newTestMaster(t, config)

	connectAndValidate(t, m, "worker-1")
	for want := 0; want < 3; want++ {
		require.Equal(t, want, claimIndex(t, m, "worker-1"))
		require.Equal(t, cvdispatch.StatusOK, submitResult(t, m, "worker-1", want).Status)
	}

	for index := 0; index < 3; index++ {
		data, err := os.ReadFile(filepath.Join(config.ResultsDir, fmt.Sprintf("%v.json", index)))
		require.NoError(t, err)
		parsed, err := plan.UnmarshalResult(data)
		require.NoError(t, err)
		require.Equal(t, index, parsed.TestIndex)
	}

	_, err := os.Stat(config.ResultsDir + ".tar.gz")
	require.NoError(t, err)
}

func TestEventsPublished(t *testing.T) {
	m := newTestMaster(t, nil)
	events := &fakePublisher{}
	m.UsePublisher(events)

	connectAndValidate(t, m, "worker-1")
	for want := 0; want < 3; want++ {
		require.Equal(t, want, claimIndex(t, m, "worker-1"))
		require.Equal(t, cvdispatch.StatusOK, submitResult(t, m, "worker-1", want).Status)
	}

	connected := events.onExchange("exchange/conveyor/v1/worker-connected")
	require.Len(t, connected, 1)
	require.Equal(t, "primary."+testSessionID+".worker-1.#", connected[0].routingKey)
	connectedMessage := connected[0].message.(*cvdispatchevents.WorkerConnectedMessage)
	require.Equal(t, testSessionID, connectedMessage.SessionID)
	require.NotEmpty(t, connectedMessage.MessageID)

	finished := events.onExchange("exchange/conveyor/v1/test-finished")
	require.Len(t, finished, 3)
	for i, event := range finished {
		message := event.message.(*cvdispatchevents.TestFinishedMessage)
		require.Equal(t, i, message.TestIndex)
		require.Equal(t, plan.ResultSuccess, message.Status)
	}

	runDone := events.onExchange("exchange/conveyor/v1/run-finished")
	require.Len(t, runDone, 1)
	require.Equal(t, "primary."+testSessionID+".#", runDone[0].routingKey)
	runMessage := runDone[0].message.(*cvdispatchevents.RunFinishedMessage)
	require.Equal(t, 3, runMessage.CompletedTests)
}

func TestWarningsRecorded(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")

	warning := &plan.Warning{
		Message:  "this API is deprecated",
		FilePath: "tests/test_auth.py",
		Lineno:   42,
		Category: "DeprecationWarning",
	}
	blob, err := warning.Marshal()
	require.NoError(t, err)
	require.NoError(t, m.ReportWarning("worker-1", &cvdispatch.ReportWarningRequest{Warning: blob}))

	m.m.Lock()
	require.Len(t, m.warnings, 1)
	require.Equal(t, "worker-1", m.warnings[0].ClientID)
	require.Equal(t, "this API is deprecated", m.warnings[0].Warning.Message)
	m.m.Unlock()

	// A blob that does not parse is dropped without failing the call.
	require.NoError(t, m.ReportWarning("worker-1", &cvdispatch.ReportWarningRequest{Warning: []byte("{")}))
	m.m.Lock()
	require.Len(t, m.warnings, 1)
	m.m.Unlock()
}

func TestStatusCountsMidRun(t *testing.T) {
	m := newTestMaster(t, nil)
	connectAndValidate(t, m, "worker-1")
	require.Equal(t, 0, claimIndex(t, m, "worker-1"))

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, SessionServing, status.State)
	assert.Equal(t, 1, status.DispatchedTests)
	assert.Equal(t, 0, status.CompletedTests)
	require.Len(t, status.Workers, 1)
	require.NotNil(t, status.Workers[0].InFlightIndex)
	assert.Equal(t, 0, *status.Workers[0].InFlightIndex)
}
