// Package master implements the conveyor dispatch master: one process owns
// the ordered test plan, admits workers, checks their collected sequences
// against it, and hands out tests one claim at a time until every result is
// in. Workers that stop sending keep-alives are expired and their in-flight
// test goes back to the queue.
package master

import (
	"os"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"
	"github.com/taskcluster/slugid-go/slugid"

	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatchevents"
	"github.com/conveyor-ci/conveyor/plan"
)

// Session states reported by the status endpoint.
const (
	SessionWaitingForClients = "waiting-for-clients"
	SessionServing           = "serving"
	SessionFinished          = "finished"
	SessionStopped           = "stopped"
)

// receivedWarning is one warning forwarded by a worker.
type receivedWarning struct {
	ClientID string
	Received time.Time
	Warning  *plan.Warning
}

// Master coordinates one dispatch session. All mutable session state sits
// behind a single mutex; HTTP handlers, the liveness reaper and the feed
// may call in from any goroutine.
type Master struct {
	m      sync.Mutex
	config *Config
	logger *logrus.Logger
	plan   *plan.Plan

	sessionID string
	started   time.Time
	state     string

	workers map[string]*workerRecord
	order   []string
	sched   *scheduler
	results *resultsStore

	warnings []*receivedWarning

	events Publisher
	feed   *Livefeed

	stopRequested bool
}

// New builds a master serving the given plan.
func New(config *Config, p *plan.Plan) (*Master, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}
	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = slugid.Nice()
	}
	if config.ResultsDir != "" {
		if err := os.MkdirAll(config.ResultsDir, 0755); err != nil {
			return nil, err
		}
	}
	m := &Master{
		config:    config,
		logger:    logger,
		plan:      p,
		sessionID: sessionID,
		started:   time.Now(),
		state:     SessionWaitingForClients,
		workers:   map[string]*workerRecord{},
		sched:     newScheduler(len(p.Tests)),
		results:   newResultsStore(config.ResultsDir, config.MaxResultsBytes),
		feed:      NewLivefeed(logger),
	}
	logger.WithFields(logrus.Fields{
		"session": sessionID,
		"plan":    p.Name,
		"tests":   len(p.Tests),
	}).Info("session created")
	return m, nil
}

// UsePublisher attaches an event publisher. Call before Serve.
func (m *Master) UsePublisher(p Publisher) {
	m.events = p
}

// SessionID returns the session identifier workers receive on connect.
func (m *Master) SessionID() string {
	return m.sessionID
}

// Connect registers clientID with the session. A client ID that is already
// registered starts over: its old record is replaced and anything it had in
// flight is requeued, so a restarted worker process does not wedge a test.
func (m *Master) Connect(clientID string) (*cvdispatch.ConnectResponse, error) {
	m.m.Lock()
	defer m.m.Unlock()
	now := time.Now()
	if record, ok := m.workers[clientID]; ok {
		if record.inFlight >= 0 {
			m.sched.requeue(record.inFlight)
		}
		m.logger.WithField("worker", clientID).Warn("worker reconnected, replacing its registration")
	} else {
		m.order = append(m.order, clientID)
	}
	m.workers[clientID] = newWorkerRecord(clientID, now)
	m.logger.WithField("worker", clientID).Info("worker connected")
	m.publishEvent(
		cvdispatchevents.WorkerConnected{SessionID: m.sessionID, ClientID: clientID},
		&cvdispatchevents.WorkerConnectedMessage{
			MessageID: cvdispatchevents.NewMessageID(),
			SessionID: m.sessionID,
			ClientID:  clientID,
			Connected: now.UTC(),
		})
	return &cvdispatch.ConnectResponse{SessionID: m.sessionID}, nil
}

// ValidateCollection checks the worker's collected sequence against the
// plan. A mismatch rejects the worker for the rest of the session.
func (m *Master) ValidateCollection(clientID string, payload *cvdispatch.ValidateCollectionRequest) (*cvdispatch.ValidateCollectionResponse, error) {
	m.m.Lock()
	defer m.m.Unlock()
	record, ok := m.workers[clientID]
	if !ok {
		return nil, &UnknownWorkerError{ClientID: clientID}
	}
	record.lastSeen = time.Now()

	expected := m.plan.Tests.Tuples()
	if !tuplesEqual(expected, payload.Collection) {
		record.state = StateRejected
		m.logger.WithField("worker", clientID).Error("worker collection does not match the plan:\n" + collectionDiff(expected, payload.Collection))
		return &cvdispatch.ValidateCollectionResponse{Valid: false}, nil
	}

	record.state = StateValidated
	m.logger.WithFields(logrus.Fields{
		"worker": clientID,
		"tests":  len(payload.Collection),
	}).Info("worker collection validated")
	if m.state == SessionWaitingForClients && m.validatedCount() >= m.config.ExpectedWorkers {
		m.state = SessionServing
		m.logger.WithField("workers", m.validatedCount()).Info("expected workers validated, session now serving")
	}
	return &cvdispatch.ValidateCollectionResponse{Valid: true}, nil
}

// ClaimTest hands the worker its next test, or one of the control
// sentinels. Protocol violations (claiming before validation, claiming with
// a test still in flight, claiming from an unknown or rejected client) are
// answered in-band with the protocol-error status.
func (m *Master) ClaimTest(clientID string) (*cvdispatch.TestClaimResponse, error) {
	m.m.Lock()
	defer m.m.Unlock()
	record, ok := m.workers[clientID]
	if !ok {
		m.logger.WithField("worker", clientID).Warn("claim from unknown worker")
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusProtocolError}, nil
	}
	record.lastSeen = time.Now()

	if record.state != StateValidated {
		m.logger.WithFields(logrus.Fields{
			"worker": clientID,
			"state":  record.state,
		}).Warn("claim from worker without a validated collection")
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusProtocolError}, nil
	}
	if record.inFlight >= 0 {
		m.logger.WithFields(logrus.Fields{
			"worker": clientID,
			"test":   record.inFlight,
		}).Warn("claim while a test is already in flight")
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusProtocolError}, nil
	}
	if m.stopRequested {
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusShouldTerminate}, nil
	}
	if m.state == SessionWaitingForClients {
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusWaitingForClients}, nil
	}
	if index, ok := m.sched.claim(); ok {
		record.inFlight = index
		m.logger.WithFields(logrus.Fields{
			"worker": clientID,
			"test":   index,
		}).Info("test dispatched")
		return &cvdispatch.TestClaimResponse{
			Status:    cvdispatch.StatusDispatch,
			TestIndex: index,
		}, nil
	}
	if m.sched.finished() {
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusFinishedAllTests}, nil
	}
	// Everything is dispatched but results are still outstanding; those
	// tests will either complete or be requeued by the reaper.
	return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusWaitingForClients}, nil
}

// FinishedTest records the result for the worker's in-flight test. A result
// from a worker with nothing in flight, for the wrong index, or that does
// not parse, is answered with the protocol-error status.
func (m *Master) FinishedTest(clientID string, payload *cvdispatch.FinishedTestRequest) (*cvdispatch.FinishedTestResponse, error) {
	m.m.Lock()
	defer m.m.Unlock()
	record, ok := m.workers[clientID]
	if !ok {
		return nil, &UnknownWorkerError{ClientID: clientID}
	}
	record.lastSeen = time.Now()

	if record.state != StateValidated || record.inFlight < 0 {
		m.logger.WithField("worker", clientID).Warn("result from worker with no test in flight")
		return &cvdispatch.FinishedTestResponse{Status: cvdispatch.StatusProtocolError}, nil
	}
	result, err := plan.UnmarshalResult(payload.Result)
	if err != nil {
		m.logger.WithError(err).WithField("worker", clientID).Warn("result blob does not parse")
		return &cvdispatch.FinishedTestResponse{Status: cvdispatch.StatusProtocolError}, nil
	}
	if result.TestIndex != record.inFlight {
		m.logger.WithFields(logrus.Fields{
			"worker":   clientID,
			"inFlight": record.inFlight,
			"reported": result.TestIndex,
		}).Warn("result reported for a test other than the one in flight")
		return &cvdispatch.FinishedTestResponse{Status: cvdispatch.StatusProtocolError}, nil
	}

	index := record.inFlight
	record.inFlight = -1
	record.completed++
	m.sched.complete(index)
	if err := m.results.add(clientID, result, payload.Result); err != nil {
		m.logger.WithError(err).Warn("could not persist result blob")
	}
	m.logger.WithFields(logrus.Fields{
		"worker":     clientID,
		"test":       index,
		"status":     result.Status,
		"durationMs": result.DurationMilliseconds,
	}).Info("test finished")
	m.publishEvent(
		cvdispatchevents.TestFinished{SessionID: m.sessionID, ClientID: clientID},
		&cvdispatchevents.TestFinishedMessage{
			MessageID:            cvdispatchevents.NewMessageID(),
			SessionID:            m.sessionID,
			ClientID:             clientID,
			TestIndex:            index,
			Status:               result.Status,
			DurationMilliseconds: result.DurationMilliseconds,
		})
	if m.sched.finished() {
		m.completeSession()
	}
	return &cvdispatch.FinishedTestResponse{Status: cvdispatch.StatusOK}, nil
}

// Disconnect marks the worker's session over. Disconnecting with a test
// still in flight is tolerated and the test is requeued, though a
// well-behaved worker never does that.
func (m *Master) Disconnect(clientID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	record, ok := m.workers[clientID]
	if !ok {
		return &UnknownWorkerError{ClientID: clientID}
	}
	record.lastSeen = time.Now()
	if record.inFlight >= 0 {
		m.logger.WithFields(logrus.Fields{
			"worker": clientID,
			"test":   record.inFlight,
		}).Warn("worker disconnected with a test in flight, requeueing it")
		m.sched.requeue(record.inFlight)
		record.inFlight = -1
	}
	record.state = StateDisconnected
	m.logger.WithFields(logrus.Fields{
		"worker":    clientID,
		"completed": record.completed,
	}).Info("worker disconnected")
	return nil
}

// KeepAlive refreshes the worker's liveness stamp. Beats keep arriving for
// a short while after disconnect since the heartbeat sender stops on its
// own cadence; those are accepted quietly.
func (m *Master) KeepAlive(clientID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	record, ok := m.workers[clientID]
	if !ok {
		return &UnknownWorkerError{ClientID: clientID}
	}
	record.lastSeen = time.Now()
	return nil
}

// ReportWarning records a warning captured by a worker mid-test. Warnings
// never fail the caller: a blob that does not parse is logged and dropped.
func (m *Master) ReportWarning(clientID string, payload *cvdispatch.ReportWarningRequest) error {
	m.m.Lock()
	defer m.m.Unlock()
	record, ok := m.workers[clientID]
	if !ok {
		return &UnknownWorkerError{ClientID: clientID}
	}
	record.lastSeen = time.Now()
	warning, err := plan.UnmarshalWarning(payload.Warning)
	if err != nil {
		m.logger.WithError(err).WithField("worker", clientID).Warn("dropping warning blob that does not parse")
		return nil
	}
	m.warnings = append(m.warnings, &receivedWarning{
		ClientID: clientID,
		Received: time.Now().UTC(),
		Warning:  warning,
	})
	m.logger.WithFields(logrus.Fields{
		"worker":   clientID,
		"file":     warning.FilePath,
		"line":     warning.Lineno,
		"category": warning.Category,
	}).Warn("test warning: " + warning.Message)
	return nil
}

// Status reports the session's progress.
func (m *Master) Status() (*cvdispatch.StatusResponse, error) {
	m.m.Lock()
	defer m.m.Unlock()
	name := m.plan.Name
	if name == "" {
		name = m.config.Name
	}
	return &cvdispatch.StatusResponse{
		SessionID:       m.sessionID,
		Name:            name,
		State:           m.state,
		TotalTests:      m.sched.total,
		DispatchedTests: m.sched.dispatchedCount(),
		CompletedTests:  m.sched.completedCount(),
		Workers:         m.workerInfos(),
	}, nil
}

// Workers reports every known worker, in registration order.
func (m *Master) Workers() (*cvdispatch.WorkersResponse, error) {
	m.m.Lock()
	defer m.m.Unlock()
	return &cvdispatch.WorkersResponse{Workers: m.workerInfos()}, nil
}

// Stop makes every subsequent claim answer should-terminate so workers wind
// down cleanly.
func (m *Master) Stop() error {
	m.m.Lock()
	defer m.m.Unlock()
	if !m.stopRequested {
		m.stopRequested = true
		if m.state != SessionFinished {
			m.state = SessionStopped
		}
		m.logger.Warn("stop requested, workers will be told to terminate")
	}
	return nil
}

// reap expires workers whose last keep-alive is older than the liveness
// timeout and requeues whatever they had in flight.
func (m *Master) reap(now time.Time) {
	m.m.Lock()
	defer m.m.Unlock()
	timeout := m.config.LivenessTimeout()
	for _, clientID := range m.order {
		record := m.workers[clientID]
		if !record.live() || now.Sub(record.lastSeen) <= timeout {
			continue
		}
		record.state = StateExpired
		var requeued *int
		if record.inFlight >= 0 {
			index := record.inFlight
			m.sched.requeue(index)
			record.inFlight = -1
			requeued = &index
		}
		m.logger.WithFields(logrus.Fields{
			"worker":   clientID,
			"lastSeen": record.lastSeen,
		}).Warn("worker expired after missing keep-alives")
		m.publishEvent(
			cvdispatchevents.WorkerExpired{SessionID: m.sessionID, ClientID: clientID},
			&cvdispatchevents.WorkerExpiredMessage{
				MessageID:     cvdispatchevents.NewMessageID(),
				SessionID:     m.sessionID,
				ClientID:      clientID,
				LastSeen:      record.lastSeen.UTC(),
				RequeuedIndex: requeued,
			})
	}
}

// completeSession flips the session to finished, once. Called under the
// mutex.
func (m *Master) completeSession() {
	if m.state == SessionFinished {
		return
	}
	m.state = SessionFinished
	m.logger.WithFields(logrus.Fields{
		"tests":    m.sched.total,
		"duration": time.Since(m.started),
	}).Info("all tests finished")
	m.publishEvent(
		cvdispatchevents.RunFinished{SessionID: m.sessionID},
		&cvdispatchevents.RunFinishedMessage{
			MessageID:            cvdispatchevents.NewMessageID(),
			SessionID:            m.sessionID,
			CompletedTests:       m.sched.completedCount(),
			DurationMilliseconds: time.Since(m.started).Milliseconds(),
		})
	if m.config.ArchiveResults {
		if path, err := m.results.archive(); err != nil {
			m.logger.WithError(err).Warn("could not archive results")
		} else {
			m.logger.WithField("archive", path).Info("results archived")
		}
	}
}

// publishEvent sends an event to the live feed and, when a publisher is
// attached, to the broker. Called under the mutex; best effort throughout.
func (m *Master) publishEvent(binding interface {
	RoutingKey() string
	ExchangeName() string
}, message interface{}) {
	m.feed.Broadcast(map[string]interface{}{
		"exchange":   binding.ExchangeName(),
		"routingKey": binding.RoutingKey(),
		"payload":    message,
	})
	if m.events == nil {
		return
	}
	if err := m.events.Publish(binding.ExchangeName(), binding.RoutingKey(), message); err != nil {
		m.logger.WithError(err).Warn("could not publish event")
	}
}

func (m *Master) validatedCount() int {
	n := 0
	for _, record := range m.workers {
		if record.state == StateValidated {
			n++
		}
	}
	return n
}

func (m *Master) workerInfos() []cvdispatch.WorkerInfo {
	infos := make([]cvdispatch.WorkerInfo, 0, len(m.order))
	for _, clientID := range m.order {
		record := m.workers[clientID]
		info := cvdispatch.WorkerInfo{
			ClientID:       record.clientID,
			State:          string(record.state),
			LastSeen:       record.lastSeen.UTC(),
			CompletedTests: record.completed,
		}
		if record.inFlight >= 0 {
			index := record.inFlight
			info.InFlightIndex = &index
		}
		infos = append(infos, info)
	}
	return infos
}

func tuplesEqual(expected, got [][]string) bool {
	if len(expected) != len(got) {
		return false
	}
	for i := range expected {
		if len(got[i]) != len(expected[i]) {
			return false
		}
		for j := range expected[i] {
			if got[i][j] != expected[i][j] {
				return false
			}
		}
	}
	return true
}

// collectionDiff renders a character diff between the plan and a worker's
// collection, one test per line, for the rejection log.
func collectionDiff(expected, got [][]string) string {
	dmp := diffmatchpatch.New()
	diff := dmp.DiffMain(tuplesText(expected), tuplesText(got), false)
	return dmp.DiffPrettyText(diff)
}

func tuplesText(tuples [][]string) string {
	var b []byte
	for _, tuple := range tuples {
		descriptor, err := plan.FromTuples([][]string{tuple})
		if err != nil {
			// Malformed tuples still need to show up in the diff.
			b = append(b, []byte("??")...)
			for _, field := range tuple {
				b = append(b, ' ')
				b = append(b, []byte(field)...)
			}
		} else {
			b = append(b, []byte(descriptor[0].String())...)
		}
		b = append(b, '\n')
	}
	return string(b)
}
