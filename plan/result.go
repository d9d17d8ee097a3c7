package plan

import (
	"encoding/json"
	"time"
)

// Test result statuses.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	// ResultError means the test could not be run at all, e.g. the test
	// command failed to start. Distinct from a test that ran and failed.
	ResultError = "error"
)

// Result is what a worker produces for exactly one dispatched test. It
// travels to the master as an opaque serialized blob; only workers and
// downstream report tooling interpret its structure.
type Result struct {
	// Test is the descriptor this result belongs to.
	Test Descriptor `json:"test"`
	// TestIndex is the plan index the master dispatched.
	TestIndex int `json:"testIndex"`
	// Status is one of ResultSuccess, ResultFailure, ResultError.
	Status string `json:"status"`
	// ExitCode of the test command, when one was run.
	ExitCode int `json:"exitCode"`
	// Output holds the combined stdout/stderr of the test command.
	Output string `json:"output,omitempty"`
	// Error describes why the test could not run, for ResultError.
	Error string `json:"error,omitempty"`
	// Started is when execution began, in UTC.
	Started time.Time `json:"started"`
	// DurationMilliseconds is how long execution took.
	DurationMilliseconds int64 `json:"durationMilliseconds"`
}

// Marshal serializes the result for submission to the master.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResult deserializes a result blob previously produced by
// (*Result).Marshal.
func UnmarshalResult(data []byte) (*Result, error) {
	r := new(Result)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}
