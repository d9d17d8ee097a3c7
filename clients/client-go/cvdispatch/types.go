package cvdispatch

import "time"

// Statuses carried in the `status` field of dispatch service responses.
// Test claim responses use StatusDispatch or one of the four control
// sentinels; result acknowledgements use StatusOK or StatusProtocolError.
const (
	StatusDispatch          = "dispatch"
	StatusWaitingForClients = "waiting-for-clients"
	StatusFinishedAllTests  = "finished-all-tests"
	StatusShouldTerminate   = "should-terminate"
	StatusProtocolError     = "protocol-error"
	StatusOK                = "ok"
)

// ConnectResponse acknowledges worker registration.
type ConnectResponse struct {
	// SessionID identifies the run this worker has joined.
	SessionID string `json:"sessionId"`
}

// ValidateCollectionRequest carries the worker's collected test sequence in
// wire form: one [filePath, functionName, variationId] tuple per test, in
// collection order.
type ValidateCollectionRequest struct {
	Collection [][]string `json:"collection"`
}

// ValidateCollectionResponse reports whether the submitted sequence matches
// the master's authoritative plan exactly.
type ValidateCollectionResponse struct {
	Valid bool `json:"valid"`
}

// TestClaimResponse is the raw wire response to a test claim. TestIndex is
// only meaningful when Status is StatusDispatch; decode with Claim rather
// than reading the fields directly.
type TestClaimResponse struct {
	Status    string `json:"status"`
	TestIndex int    `json:"testIndex,omitempty"`
}

// FinishedTestRequest carries the serialized result of the worker's
// in-flight test. The blob is opaque to the master.
type FinishedTestRequest struct {
	Result []byte `json:"result"`
}

// FinishedTestResponse acknowledges a submitted result.
type FinishedTestResponse struct {
	Status string `json:"status"`
}

// OK reports whether the result was accepted. Anything other than an
// explicit ok, including statuses this client version does not know, counts
// as a protocol error.
func (r *FinishedTestResponse) OK() bool {
	return r.Status == StatusOK
}

// ReportWarningRequest carries a serialized warning blob. Opaque to the
// master.
type ReportWarningRequest struct {
	Warning []byte `json:"warning"`
}

// WorkerInfo is one row of the master's worker registry.
type WorkerInfo struct {
	ClientID string `json:"clientId"`
	// State is one of connected, validated, rejected, disconnected, expired.
	State string `json:"state"`
	// LastSeen is the time of the last keep-alive (or other call) from this
	// worker, in UTC.
	LastSeen time.Time `json:"lastSeen"`
	// InFlightIndex is the plan index currently dispatched to this worker,
	// or null if it has no test in flight.
	InFlightIndex *int `json:"inFlightIndex,omitempty"`
	// CompletedTests counts results accepted from this worker.
	CompletedTests int `json:"completedTests"`
}

// StatusResponse is the master's view of the run.
type StatusResponse struct {
	SessionID string `json:"sessionId"`
	// Name is the plan's optional human-readable label.
	Name string `json:"name,omitempty"`
	// State is one of waiting-for-clients, serving, finished, stopped.
	State string `json:"state"`
	// TotalTests is the length of the authoritative plan.
	TotalTests int `json:"totalTests"`
	// DispatchedTests counts indices currently in flight.
	DispatchedTests int `json:"dispatchedTests"`
	// CompletedTests counts indices with an accepted result.
	CompletedTests int          `json:"completedTests"`
	Workers        []WorkerInfo `json:"workers"`
}

// WorkersResponse lists the master's worker registry.
type WorkersResponse struct {
	Workers []WorkerInfo `json:"workers"`
}
