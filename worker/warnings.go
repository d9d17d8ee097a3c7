package worker

import (
	"log"
	"sync"

	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
	"github.com/conveyor-ci/conveyor/plan"
)

// WarningFunc handles a warning captured while a test runs.
type WarningFunc func(warning *plan.Warning)

// WarningBroadcaster fans captured warnings out to subscribers. Test code
// (or the executor on its behalf) calls Raise; each interested party
// registers a handler with Subscribe and removes it again with the returned
// function. A worker subscribes when its run starts and unsubscribes during
// teardown, so warnings raised outside a run are simply not forwarded.
type WarningBroadcaster struct {
	m         sync.Mutex
	nextID    int
	callbacks map[int]WarningFunc
}

// NewWarningBroadcaster returns an empty broadcaster with no subscribers.
func NewWarningBroadcaster() *WarningBroadcaster {
	return &WarningBroadcaster{
		callbacks: map[int]WarningFunc{},
	}
}

// Subscribe sets up f to be called for every warning subsequently raised.
// It returns a function which, when called, removes the subscription.
// Calling the returned function more than once is harmless.
func (b *WarningBroadcaster) Subscribe(f WarningFunc) func() {
	b.m.Lock()
	defer b.m.Unlock()
	id := b.nextID
	b.nextID++
	b.callbacks[id] = f
	return func() {
		b.m.Lock()
		defer b.m.Unlock()
		delete(b.callbacks, id)
	}
}

// Raise delivers warning to every current subscriber, synchronously on the
// caller's goroutine.
func (b *WarningBroadcaster) Raise(warning *plan.Warning) {
	b.m.Lock()
	callbacks := make([]WarningFunc, 0, len(b.callbacks))
	for _, f := range b.callbacks {
		callbacks = append(callbacks, f)
	}
	b.m.Unlock()
	for _, f := range callbacks {
		f(warning)
	}
}

// handleWarning forwards a captured warning to the master. Warnings are
// raised on the goroutine executing the test, which is the run loop's own,
// so the run loop's dispatch handle is safe to use here. A warning that
// cannot be serialized is logged locally and dropped; a delivery failure is
// logged and otherwise ignored, since warnings must never take down a run.
func (w *Worker) handleWarning(warning *plan.Warning) {
	blob, err := warning.Marshal()
	if err != nil {
		log.Printf("Worker %v: dropping warning that could not be serialized (message %q, raised at %v:%v): %v", w.clientID, warning.Message, warning.FilePath, warning.Lineno, err)
		return
	}
	err = w.dispatch.ReportWarning(w.clientID, &cvdispatch.ReportWarningRequest{
		Warning: blob,
	})
	if err != nil {
		log.Printf("Worker %v: could not forward warning to master: %v", w.clientID, err)
	}
}
