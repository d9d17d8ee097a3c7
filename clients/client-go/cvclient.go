// Package cvclient provides the low-level HTTP client used by all conveyor
// API clients. It handles request signing, retries with exponential backoff,
// and json marshaling of request and response payloads. Typed clients such
// as cvdispatch are thin wrappers around Client.APICall.
package cvclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/taskcluster/httpbackoff/v3"
)

// Credentials represents the set of credentials required to access protected
// conveyor HTTP APIs. A run is issued a single access token by the master
// operator; every worker and admin client signs with it.
type Credentials struct {
	// ClientID identifies the caller. For workers this is the worker's
	// client id; for admin tooling it is an operator-chosen name.
	ClientID string `json:"clientId"`
	// AccessToken is the shared secret for the run.
	AccessToken string `json:"accessToken"`
}

func (creds *Credentials) String() string {
	return fmt.Sprintf(
		"ClientId: %q\nAccessToken: %q",
		creds.ClientID,
		starOut(creds.AccessToken),
	)
}

// starOut masks a secret, keeping its length visible for troubleshooting.
func starOut(s string) string {
	return strings.Repeat("*", len(s))
}

// Client is the entry point into all the functionality in this package. It
// contains authentication credentials and a service endpoint, which are
// required for all HTTP operations.
type Client struct {
	Credentials *Credentials
	// RootURL is the root URL of the master, e.g. "http://localhost:8010".
	RootURL string
	// ServiceName is the name of the service to be accessed, e.g. "dispatch".
	ServiceName string
	// APIVersion is the version of the service API, e.g. "v1".
	APIVersion string
	// Whether to sign requests. Disable for unauthenticated runs.
	Authenticate bool
	// HTTPClient is a ReducedHTTPClient to be used for the http call instead
	// of the DefaultHTTPClient.
	HTTPClient ReducedHTTPClient
	// Context that aborts all requests with this client.
	Context context.Context
	// HTTPBackoffClient is the retry client to use instead of the default.
	// Callers on a tight schedule (e.g. heartbeat senders) plug in one with
	// short backoff settings so a failed call gives up well before the next
	// attempt is due anyway.
	HTTPBackoffClient *httpbackoff.Client
}

// RootURLFromHostPort builds the root URL for a master reachable on the
// given host and port.
func RootURLFromHostPort(host string, port uint16) string {
	return fmt.Sprintf("http://%v:%v", host, port)
}

// CredentialsFromEnvVars creates and returns conveyor credentials
// initialised from the values of environment variables:
//
//	CONVEYOR_CLIENT_ID
//	CONVEYOR_ACCESS_TOKEN
//
// No validation is performed on the assigned values, and unset environment
// variables will result in empty string values.
func CredentialsFromEnvVars() *Credentials {
	return &Credentials{
		ClientID:    os.Getenv("CONVEYOR_CLIENT_ID"),
		AccessToken: os.Getenv("CONVEYOR_ACCESS_TOKEN"),
	}
}
