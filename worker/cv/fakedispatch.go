package cv

import (
	"sync"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
)

// FakeDispatch is an in-memory Dispatch implementation for worker tests. It
// plays back scripted claim outcomes and result acknowledgements, records
// every call it receives, and can be told to fail specific methods. Safe
// for concurrent use; the heartbeat sender calls it from its own goroutine.
type FakeDispatch struct {
	mu sync.Mutex

	sessionID string
	valid     bool
	claims    []cvdispatch.TestClaimResponse
	acks      []cvdispatch.FinishedTestResponse
	errs      map[string]error

	calls       []string
	results     [][]byte
	warnings    [][]byte
	keepAlives  int
	disconnects int
}

// NewFakeDispatch returns a fake whose collection validation succeeds and
// which serves finished-all-tests once its scripted claims are exhausted.
func NewFakeDispatch() *FakeDispatch {
	return &FakeDispatch{
		sessionID: "fake-session",
		valid:     true,
		errs:      map[string]error{},
	}
}

// ScriptClaims sets the claim responses served, in order. After the script
// runs out every further claim is finished-all-tests.
func (d *FakeDispatch) ScriptClaims(claims ...cvdispatch.TestClaimResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims = append(d.claims, claims...)
}

// ScriptAcks sets the result acknowledgements served, in order. After the
// script runs out every further result is acknowledged ok.
func (d *FakeDispatch) ScriptAcks(acks ...cvdispatch.FinishedTestResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acks = append(d.acks, acks...)
}

// SetValid sets the verdict returned by ValidateCollection.
func (d *FakeDispatch) SetValid(valid bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.valid = valid
}

// FailWith makes the named method (e.g. "connect", "claim-test") return err
// on every call.
func (d *FakeDispatch) FailWith(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[method] = err
}

func (d *FakeDispatch) record(call string) error {
	d.calls = append(d.calls, call)
	return d.errs[call]
}

func (d *FakeDispatch) Connect(clientID string) (*cvdispatch.ConnectResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("connect"); err != nil {
		return nil, err
	}
	return &cvdispatch.ConnectResponse{SessionID: d.sessionID}, nil
}

func (d *FakeDispatch) ValidateCollection(clientID string, payload *cvdispatch.ValidateCollectionRequest) (*cvdispatch.ValidateCollectionResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("validate-collection"); err != nil {
		return nil, err
	}
	return &cvdispatch.ValidateCollectionResponse{Valid: d.valid}, nil
}

func (d *FakeDispatch) ClaimTest(clientID string) (*cvdispatch.TestClaimResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("claim-test"); err != nil {
		return nil, err
	}
	if len(d.claims) == 0 {
		return &cvdispatch.TestClaimResponse{Status: cvdispatch.StatusFinishedAllTests}, nil
	}
	claim := d.claims[0]
	d.claims = d.claims[1:]
	return &claim, nil
}

func (d *FakeDispatch) FinishedTest(clientID string, payload *cvdispatch.FinishedTestRequest) (*cvdispatch.FinishedTestResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("finished-test"); err != nil {
		return nil, err
	}
	d.results = append(d.results, payload.Result)
	if len(d.acks) == 0 {
		return &cvdispatch.FinishedTestResponse{Status: cvdispatch.StatusOK}, nil
	}
	ack := d.acks[0]
	d.acks = d.acks[1:]
	return &ack, nil
}

func (d *FakeDispatch) Disconnect(clientID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("disconnect"); err != nil {
		return err
	}
	d.disconnects++
	return nil
}

func (d *FakeDispatch) KeepAlive(clientID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("keep-alive"); err != nil {
		return err
	}
	d.keepAlives++
	return nil
}

func (d *FakeDispatch) ReportWarning(clientID string, payload *cvdispatch.ReportWarningRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("report-warning"); err != nil {
		return err
	}
	d.warnings = append(d.warnings, payload.Warning)
	return nil
}

// Calls returns the names of all calls received so far, in order. Keep-alive
// calls are excluded since they arrive on the heartbeat sender's own
// cadence and would make call-order assertions racy.
func (d *FakeDispatch) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := []string{}
	for _, c := range d.calls {
		if c != "keep-alive" {
			calls = append(calls, c)
		}
	}
	return calls
}

// CallCount returns how many times the named method was called.
func (d *FakeDispatch) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Results returns the raw result blobs submitted so far, in order.
func (d *FakeDispatch) Results() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	results := make([][]byte, len(d.results))
	copy(results, d.results)
	return results
}

// Warnings returns the raw warning blobs submitted so far, in order.
func (d *FakeDispatch) Warnings() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	warnings := make([][]byte, len(d.warnings))
	copy(warnings, d.warnings)
	return warnings
}

// KeepAlives returns how many keep-alive calls have been received.
func (d *FakeDispatch) KeepAlives() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keepAlives
}

// Disconnects returns how many disconnect calls have been received.
func (d *FakeDispatch) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// FakeDispatchClientFactory returns a factory that hands out the given fake
// regardless of root URL or credentials.
func FakeDispatchClientFactory(fake *FakeDispatch) DispatchClientFactory {
	return func(rootURL string, credentials *cvclient.Credentials) (Dispatch, error) {
		return fake, nil
	}
}

var _ Dispatch = &FakeDispatch{}
