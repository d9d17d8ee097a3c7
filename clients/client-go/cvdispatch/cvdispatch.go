// Package cvdispatch provides the typed client for the conveyor dispatch
// service: the API that the master exposes to workers and admin tooling.
//
// The dispatch service owns the authoritative test plan for a run and hands
// out one test at a time to connected workers. Workers drive the protocol
// with one method per protocol step:
//
//	dispatch := cvdispatch.New(creds, "http://localhost:8010")
//	_, err := dispatch.Connect(clientID)
//	...
//	claim, err := dispatch.ClaimTest(clientID)
//	switch claim.Claim().Outcome() {
//	...
//	}
//
// Connections are cheap: each caller should create its own Dispatch value
// rather than sharing one across goroutines with differing retry or context
// requirements (e.g. heartbeat senders use a dedicated client with short
// backoff settings).
package cvdispatch

import (
	"net/url"
	"os"
	"time"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
)

type Dispatch cvclient.Client

func rootURLFromEnv() string {
	return os.Getenv("CONVEYOR_MASTER_URL")
}

// New returns a Dispatch client for the master at the given root URL. Pass
// in nil credentials to create a client without authentication. The
// returned client is mutable, so returned settings can be altered.
func New(credentials *cvclient.Credentials, rootURL string) *Dispatch {
	return &Dispatch{
		Credentials:  credentials,
		RootURL:      rootURL,
		ServiceName:  "dispatch",
		APIVersion:   "v1",
		Authenticate: credentials != nil,
	}
}

// NewFromEnv returns a *Dispatch configured from environment variables.
//
// The root URL is taken from CONVEYOR_MASTER_URL. The credentials are taken
// from CONVEYOR_CLIENT_ID and CONVEYOR_ACCESS_TOKEN. If CONVEYOR_CLIENT_ID
// is empty/unset, authentication will be disabled.
func NewFromEnv() *Dispatch {
	c := cvclient.CredentialsFromEnvVars()
	return &Dispatch{
		Credentials:  c,
		RootURL:      rootURLFromEnv(),
		ServiceName:  "dispatch",
		APIVersion:   "v1",
		Authenticate: c.ClientID != "",
	}
}

// Ping checks that the master is running and answering requests.
func (dispatch *Dispatch) Ping() error {
	cd := cvclient.Client(*dispatch)
	_, _, err := (&cd).APICall(nil, "GET", "/ping", nil, nil)
	return err
}

// Connect registers the calling worker's identity with the master. The
// response carries the session id for the run, which is fixed for the
// lifetime of the worker.
func (dispatch *Dispatch) Connect(clientID string) (*ConnectResponse, error) {
	cd := cvclient.Client(*dispatch)
	responseObject, _, err := (&cd).APICall(nil, "POST", "/workers/"+url.QueryEscape(clientID)+"/connect", new(ConnectResponse), nil)
	return responseObject.(*ConnectResponse), err
}

// ValidateCollection sends the worker's locally collected test sequence, in
// tuple wire form, for comparison against the master's authoritative plan.
// A response with Valid set to false means this worker's view of the test
// collection differs from the master's and the worker must not run tests.
func (dispatch *Dispatch) ValidateCollection(clientID string, payload *ValidateCollectionRequest) (*ValidateCollectionResponse, error) {
	cd := cvclient.Client(*dispatch)
	responseObject, _, err := (&cd).APICall(payload, "PUT", "/workers/"+url.QueryEscape(clientID)+"/collection", new(ValidateCollectionResponse), nil)
	return responseObject.(*ValidateCollectionResponse), err
}

// ClaimTest asks the master for the next test. The response is either a
// dispatched test index or a control sentinel; use TestClaimResponse.Claim
// to decode it rather than inspecting the raw fields.
func (dispatch *Dispatch) ClaimTest(clientID string) (*TestClaimResponse, error) {
	cd := cvclient.Client(*dispatch)
	responseObject, _, err := (&cd).APICall(nil, "POST", "/workers/"+url.QueryEscape(clientID)+"/claim-test", new(TestClaimResponse), nil)
	return responseObject.(*TestClaimResponse), err
}

// FinishedTest submits the serialized result of the worker's in-flight
// test. The acknowledgement may itself be a protocol error, meaning the
// master no longer considers this worker in sync; the result already
// submitted is not invalidated by that.
func (dispatch *Dispatch) FinishedTest(clientID string, payload *FinishedTestRequest) (*FinishedTestResponse, error) {
	cd := cvclient.Client(*dispatch)
	responseObject, _, err := (&cd).APICall(payload, "POST", "/workers/"+url.QueryEscape(clientID)+"/result", new(FinishedTestResponse), nil)
	return responseObject.(*FinishedTestResponse), err
}

// Disconnect tells the master this worker is leaving the run cleanly. Only
// called on the normal teardown path.
func (dispatch *Dispatch) Disconnect(clientID string) error {
	cd := cvclient.Client(*dispatch)
	_, _, err := (&cd).APICall(nil, "POST", "/workers/"+url.QueryEscape(clientID)+"/disconnect", nil, nil)
	return err
}

// KeepAlive asserts liveness for the given worker. Sent by the worker's
// heartbeat sender on its own cadence, independent of the run loop.
func (dispatch *Dispatch) KeepAlive(clientID string) error {
	cd := cvclient.Client(*dispatch)
	_, _, err := (&cd).APICall(nil, "POST", "/workers/"+url.QueryEscape(clientID)+"/keep-alive", nil, nil)
	return err
}

// ReportWarning forwards a serialized warning captured during test
// execution. Fire-and-forget semantics: the master stores the blob but the
// run does not depend on it.
func (dispatch *Dispatch) ReportWarning(clientID string, payload *ReportWarningRequest) error {
	cd := cvclient.Client(*dispatch)
	_, _, err := (&cd).APICall(payload, "POST", "/workers/"+url.QueryEscape(clientID)+"/warning", nil, nil)
	return err
}

// Status returns the master's view of the run: session state, dispatch
// counters and the worker table. Unauthenticated.
func (dispatch *Dispatch) Status() (*StatusResponse, error) {
	cd := cvclient.Client(*dispatch)
	responseObject, _, err := (&cd).APICall(nil, "GET", "/status", new(StatusResponse), nil)
	return responseObject.(*StatusResponse), err
}

// Workers returns the master's worker registry. Unauthenticated.
func (dispatch *Dispatch) Workers() (*WorkersResponse, error) {
	cd := cvclient.Client(*dispatch)
	responseObject, _, err := (&cd).APICall(nil, "GET", "/workers", new(WorkersResponse), nil)
	return responseObject.(*WorkersResponse), err
}

// Stop asks the master to wind the run down: every subsequent test claim is
// answered with the should-terminate sentinel.
func (dispatch *Dispatch) Stop() error {
	cd := cvclient.Client(*dispatch)
	_, _, err := (&cd).APICall(nil, "POST", "/stop", nil, nil)
	return err
}

// EventsFeed_SignedURL returns a signed URL for the master's websocket
// event feed, valid for the given duration. Consumers dial this URL with a
// websocket client to stream run events as JSON.
func (dispatch *Dispatch) EventsFeed_SignedURL(duration time.Duration) (*url.URL, error) {
	cd := cvclient.Client(*dispatch)
	return (&cd).SignedURL("/events/feed", nil, duration)
}
