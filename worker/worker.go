// Package worker implements the conveyor worker: it connects to a master,
// proves its collected test sequence matches the master's plan, then claims
// and runs tests one at a time until the master tells it to stop. A second
// goroutine sends keep-alives for the whole run so the master can tell a
// slow test apart from a dead worker.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/taskcluster/httpbackoff/v3"

	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/plan"
	"github.com/conveyor-ci/conveyor/worker/cv"
)

// Worker drives one client's dispatch session from connect to disconnect.
type Worker struct {
	clientID   string
	collection plan.Collection
	executor   Executor
	warnings   *WarningBroadcaster
	rc         *RunContext

	// dispatch is the run loop's handle; heartbeatDispatch belongs to the
	// heartbeat goroutine. They are separate instances so the two goroutines
	// never share transport state.
	dispatch          cv.Dispatch
	heartbeatDispatch cv.Dispatch

	heartbeatInterval time.Duration
	waitBackoff       time.Duration

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
	unsubscribe   func()
}

// New builds a worker from config. The collection is the test sequence this
// worker collected locally, in plan order; executor runs the individual
// tests; warnings receives warnings captured while tests run.
func New(config *Config, collection plan.Collection, executor Executor, warnings *WarningBroadcaster) (*Worker, error) {
	return newWorker(config, collection, executor, warnings, cv.RealDispatchClientFactory)
}

func newWorker(config *Config, collection plan.Collection, executor Executor, warnings *WarningBroadcaster, factory cv.DispatchClientFactory) (*Worker, error) {
	rootURL := config.BaseURL()
	dispatch, err := factory(rootURL, config.Credentials())
	if err != nil {
		return nil, fmt.Errorf("worker %v: creating dispatch client: %w", config.ClientID, err)
	}
	heartbeatDispatch, err := factory(rootURL, config.Credentials())
	if err != nil {
		return nil, fmt.Errorf("worker %v: creating heartbeat client: %w", config.ClientID, err)
	}
	interval := config.HeartbeatInterval()
	if d, ok := heartbeatDispatch.(*cvdispatch.Dispatch); ok {
		// Retries for a single beat must not outlive the beat interval,
		// otherwise stopping the heartbeat would block teardown on a retry
		// storm.
		settings := backoff.NewExponentialBackOff()
		settings.MaxElapsedTime = interval
		d.HTTPBackoffClient = &httpbackoff.Client{
			BackOffSettings: settings,
		}
	}
	return &Worker{
		clientID:          config.ClientID,
		collection:        collection,
		executor:          executor,
		warnings:          warnings,
		rc:                NewRunContext(config.ClientID),
		dispatch:          dispatch,
		heartbeatDispatch: heartbeatDispatch,
		heartbeatInterval: interval,
		waitBackoff:       config.WaitBackoff(),
	}, nil
}

// RunContext exposes the session state, mainly so test executors can reach
// Defer and the current test index.
func (w *Worker) RunContext() *RunContext {
	return w.rc
}

// Run executes the full worker session against the master and blocks until
// it ends. Whatever way the session ends, teardown runs before Run returns:
// deferred session cleanups are flushed, the warning subscription is
// removed, and the heartbeat goroutine is stopped and waited for. Only when
// the master ended the run normally does the worker then mark the session
// complete and disconnect.
//
// Cancelling ctx interrupts the run; Run then returns an error wrapping
// ErrInterrupted after teardown. A master-reported protocol error surfaces
// as *ProtocolFault, a rejected collection as *CollectionMismatchError.
func (w *Worker) Run(ctx context.Context) (err error) {
	log.Printf("Worker %v: connecting to master", w.clientID)
	connectResponse, err := w.dispatch.Connect(w.clientID)
	if err != nil {
		return fmt.Errorf("worker %v: connect: %w", w.clientID, err)
	}
	w.rc.SessionID = connectResponse.SessionID
	log.Printf("Worker %v: connected, session %v", w.clientID, w.rc.SessionID)

	w.unsubscribe = w.warnings.Subscribe(w.handleWarning)
	w.heartbeatStop = make(chan struct{})
	w.heartbeatDone = make(chan struct{})
	go w.heartbeatLoop()

	defer func() {
		w.rc.flushScopes()
		w.unsubscribe()
		close(w.heartbeatStop)
		<-w.heartbeatDone
		if err == nil {
			w.rc.markComplete()
			if disconnectErr := w.dispatch.Disconnect(w.clientID); disconnectErr != nil {
				err = fmt.Errorf("worker %v: disconnect: %w", w.clientID, disconnectErr)
				return
			}
			log.Printf("Worker %v: session complete, disconnected", w.clientID)
		}
	}()

	validation, err := w.dispatch.ValidateCollection(w.clientID, &cvdispatch.ValidateCollectionRequest{
		Collection: w.collection.Tuples(),
	})
	if err != nil {
		return fmt.Errorf("worker %v: validate-collection: %w", w.clientID, err)
	}
	if !validation.Valid {
		log.Printf("Worker %v: collected test sequence rejected by master, disconnecting", w.clientID)
		if disconnectErr := w.dispatch.Disconnect(w.clientID); disconnectErr != nil {
			log.Printf("Worker %v: disconnect after rejection failed: %v", w.clientID, disconnectErr)
		}
		return &CollectionMismatchError{ClientID: w.clientID}
	}
	log.Printf("Worker %v: collection of %v tests validated", w.clientID, len(w.collection))

	return w.runLoop(ctx)
}

// runLoop claims tests until the master ends the run. Returning nil means
// the master ended it normally (all tests finished, or it asked this worker
// to terminate).
func (w *Worker) runLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("worker %v: %w", w.clientID, ErrInterrupted)
		default:
		}

		claimResponse, err := w.dispatch.ClaimTest(w.clientID)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("worker %v: %w", w.clientID, ErrInterrupted)
			}
			return fmt.Errorf("worker %v: claim-test: %w", w.clientID, err)
		}

		claim := claimResponse.Claim()
		switch claim.Outcome() {
		case cvdispatch.OutcomeDispatch:
			if err := w.runOne(ctx, claim.Index()); err != nil {
				return err
			}
		case cvdispatch.OutcomeWaiting:
			// Nothing to claim right now. Not an error, back off briefly.
			select {
			case <-ctx.Done():
				return fmt.Errorf("worker %v: %w", w.clientID, ErrInterrupted)
			case <-time.After(w.waitBackoff):
			}
		case cvdispatch.OutcomeFinished:
			log.Printf("Worker %v: all tests finished", w.clientID)
			return nil
		case cvdispatch.OutcomeTerminate:
			log.Printf("Worker %v: master requested termination", w.clientID)
			return nil
		case cvdispatch.OutcomeProtocolError:
			log.Printf("Worker %v: master reported a protocol error on claim, stopping", w.clientID)
			return &ProtocolFault{ClientID: w.clientID, Step: "claim-test"}
		default:
			return &ProtocolFault{ClientID: w.clientID, Step: fmt.Sprintf("claim-test (unexpected outcome %v)", claim.Outcome())}
		}
	}
}

// runOne executes the test at index and submits its result.
func (w *Worker) runOne(ctx context.Context, index int) error {
	if index < 0 || index >= len(w.collection) {
		log.Printf("Worker %v: master dispatched test index %v outside collection of %v tests", w.clientID, index, len(w.collection))
		return &ProtocolFault{ClientID: w.clientID, Step: fmt.Sprintf("claim-test (index %v out of range)", index)}
	}
	test := w.collection[index]
	w.rc.CurrentTestIndex = index
	log.Printf("Worker %v: running test %v: %v", w.clientID, index, test)

	result, err := w.executor.Execute(ctx, w.rc, test)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("worker %v: %w", w.clientID, ErrInterrupted)
		}
		return fmt.Errorf("worker %v: executing test %v: %w", w.clientID, index, err)
	}
	log.Printf("Worker %v: test %v finished: %v in %vms", w.clientID, index, result.Status, result.DurationMilliseconds)

	blob, err := result.Marshal()
	if err != nil {
		return fmt.Errorf("worker %v: serializing result for test %v: %w", w.clientID, index, err)
	}
	acknowledgement, err := w.dispatch.FinishedTest(w.clientID, &cvdispatch.FinishedTestRequest{
		Result: blob,
	})
	if err != nil {
		return fmt.Errorf("worker %v: finished-test: %w", w.clientID, err)
	}
	if !acknowledgement.OK() {
		// The result was already submitted, so the master may or may not
		// have recorded it. All the worker can do is stop claiming.
		log.Printf("Worker %v: master reported a protocol error acknowledging test %v, stopping", w.clientID, index)
		return &ProtocolFault{ClientID: w.clientID, Step: "finished-test"}
	}
	w.rc.CurrentTestIndex = -1
	return nil
}

// heartbeatLoop sends keep-alives on its own dispatch handle until told to
// stop. It checks for the stop signal at every wait boundary, so the worker
// joins it within one beat interval.
func (w *Worker) heartbeatLoop() {
	defer close(w.heartbeatDone)
	for {
		select {
		case <-w.heartbeatStop:
			return
		default:
		}
		if err := w.heartbeatDispatch.KeepAlive(w.clientID); err != nil {
			log.Printf("Worker %v: keep-alive failed (next beat in %v): %v", w.clientID, w.heartbeatInterval, err)
		}
		select {
		case <-w.heartbeatStop:
			return
		case <-time.After(w.heartbeatInterval):
		}
	}
}
