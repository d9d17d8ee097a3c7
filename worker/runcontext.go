package worker

import (
	"log"
	"sync"
)

// RunContext carries the mutable state of a single worker session. The run
// loop is its only writer; the heartbeat goroutine never touches it.
type RunContext struct {
	// ClientID identifies this worker to the master.
	ClientID string

	// SessionID is assigned by the master on connect.
	SessionID string

	// CurrentTestIndex is the plan index of the test now executing, or -1
	// when no test is in flight. Written only by the run loop.
	CurrentTestIndex int

	m        sync.Mutex
	cleanups []func()
	complete bool
}

// NewRunContext returns a RunContext for clientID with no test in flight.
func NewRunContext(clientID string) *RunContext {
	return &RunContext{
		ClientID:         clientID,
		CurrentTestIndex: -1,
	}
}

// Defer registers f to run when the session's scopes are flushed during
// teardown. Cleanups run in reverse registration order, like defer.
func (rc *RunContext) Defer(f func()) {
	rc.m.Lock()
	defer rc.m.Unlock()
	rc.cleanups = append(rc.cleanups, f)
}

// flushScopes runs all registered cleanups, most recent first. A panicking
// cleanup is logged and skipped so that the remaining cleanups, and the rest
// of teardown, still run.
func (rc *RunContext) flushScopes() {
	rc.m.Lock()
	cleanups := rc.cleanups
	rc.cleanups = nil
	rc.m.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Worker %v: panic in session cleanup (continuing): %v", rc.ClientID, r)
				}
			}()
			cleanups[i]()
		}()
	}
}

// markComplete records that the session ran to its normal end.
func (rc *RunContext) markComplete() {
	rc.m.Lock()
	defer rc.m.Unlock()
	rc.complete = true
}

// Completed reports whether the session ran to its normal end, meaning the
// master told this worker to stop rather than the run being cut short.
func (rc *RunContext) Completed() bool {
	rc.m.Lock()
	defer rc.m.Unlock()
	return rc.complete
}
