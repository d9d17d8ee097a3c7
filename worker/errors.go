package worker

import (
	"errors"
	"fmt"
)

// ErrInterrupted is wrapped into the error returned by Run when the run was
// cut short by context cancellation, typically because the process caught an
// interrupt signal. Teardown has already run by the time Run returns it.
var ErrInterrupted = errors.New("run interrupted")

// CollectionMismatchError is returned by Run when the master rejected this
// worker's collected test sequence. The worker has already disconnected.
type CollectionMismatchError struct {
	ClientID string
}

func (e *CollectionMismatchError) Error() string {
	return fmt.Sprintf("worker %v: collected test sequence does not match the master's plan", e.ClientID)
}

// ProtocolFault is returned by Run when the master reported a protocol error
// for this worker. Step names the call on which the error surfaced.
type ProtocolFault struct {
	ClientID string
	Step     string
}

func (e *ProtocolFault) Error() string {
	return fmt.Sprintf("worker %v: master reported a protocol error on %v", e.ClientID, e.Step)
}
