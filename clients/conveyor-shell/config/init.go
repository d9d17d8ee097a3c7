package config

import (
	"fmt"
	"os"

	"github.com/conveyor-ci/conveyor/clients/conveyor-shell/client"
)

var (
	// Configuration contains the current configuration values.
	Configuration map[string]map[string]interface{}

	// OptionsDefinitions is a map of all the OptionDefinitions, by command.
	OptionsDefinitions = make(map[string]map[string]OptionDefinition)

	// masterURL is the base URL of the dispatch master commands talk to
	masterURL string

	// Credentials is the client credentials, if present.
	Credentials *client.Credentials
)

// Defer erroring out on a missing master URL until we actually need one..
func MasterURL() string {
	if masterURL == "" {
		fmt.Fprintln(os.Stderr, "No master URL specified; set CONVEYOR_MASTER_URL")
		os.Exit(1)
	}
	return masterURL
}

// set the master URL -- this is used only for testing
func SetMasterURL(newMasterURL string) {
	masterURL = newMasterURL
}

// Setup is to be called from main
// this was originally the init() function
// but we want to make sure all other packages have been initialized
// before calling them, which Load() does
func Setup() {
	var err error

	// load configuration
	Configuration, err = Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration file, error: %s\n", err)
		os.Exit(1)
	}

	// load master URL
	masterURL = Configuration["config"]["masterUrl"].(string)

	// load credentials
	clientID := Configuration["config"]["clientId"].(string)
	accessToken := Configuration["config"]["accessToken"].(string)
	if clientID != "" && accessToken != "" {
		Credentials = &client.Credentials{
			ClientID:    clientID,
			AccessToken: accessToken,
		}
		return
	}
	if clientID != "" || accessToken != "" {
		fmt.Fprintln(os.Stderr, "Either ClientID or Access Token not set")
		os.Exit(1)
	}
}
