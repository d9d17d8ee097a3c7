package master

import "time"

// WorkerState is a worker's lifecycle state as the master sees it.
type WorkerState string

const (
	// StateConnected means the worker opened a session but has not proved
	// its collection yet.
	StateConnected WorkerState = "connected"

	// StateValidated means the worker's collected sequence matched the plan
	// and it may claim tests.
	StateValidated WorkerState = "validated"

	// StateRejected means the worker's collection did not match the plan.
	StateRejected WorkerState = "rejected"

	// StateDisconnected means the worker ended its session cleanly.
	StateDisconnected WorkerState = "disconnected"

	// StateExpired means the worker went silent past the liveness timeout.
	StateExpired WorkerState = "expired"
)

// workerRecord is the registry's view of one worker. All fields are guarded
// by the Master mutex.
type workerRecord struct {
	clientID  string
	state     WorkerState
	lastSeen  time.Time
	inFlight  int // plan index in flight, -1 when none
	completed int
}

func newWorkerRecord(clientID string, now time.Time) *workerRecord {
	return &workerRecord{
		clientID: clientID,
		state:    StateConnected,
		lastSeen: now,
		inFlight: -1,
	}
}

// live reports whether the worker still participates in the session.
func (r *workerRecord) live() bool {
	return r.state == StateConnected || r.state == StateValidated
}
