// Package cv defines the dispatch service interface the worker consumes,
// decoupling the worker state machine from the HTTP client so tests can
// substitute fakes.
package cv

import (
	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
)

// An interface containing the functions required of the dispatch service,
// allowing use of fakes that also match this interface.
type Dispatch interface {
	Connect(clientID string) (*cvdispatch.ConnectResponse, error)
	ValidateCollection(clientID string, payload *cvdispatch.ValidateCollectionRequest) (*cvdispatch.ValidateCollectionResponse, error)
	ClaimTest(clientID string) (*cvdispatch.TestClaimResponse, error)
	FinishedTest(clientID string, payload *cvdispatch.FinishedTestRequest) (*cvdispatch.FinishedTestResponse, error)
	Disconnect(clientID string) error
	KeepAlive(clientID string) error
	ReportWarning(clientID string, payload *cvdispatch.ReportWarningRequest) error
}

// A factory type that can create new instances of the Dispatch interface.
// The worker uses one factory invocation for the run loop's client and a
// separate invocation for the heartbeat sender's client, so the two never
// share a transport handle.
type DispatchClientFactory func(rootURL string, credentials *cvclient.Credentials) (Dispatch, error)

// RealDispatchClientFactory returns clients backed by the dispatch service
// over HTTP.
func RealDispatchClientFactory(rootURL string, credentials *cvclient.Credentials) (Dispatch, error) {
	return cvdispatch.New(credentials, rootURL), nil
}
