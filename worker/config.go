package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"time"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
)

type (
	// Conveyor worker config
	Config struct {
		PrivateConfig
		PublicConfig
	}

	PublicConfig struct {
		ClientID                      string   `json:"clientId"`
		Command                       []string `json:"command"`
		HeartbeatIntervalMilliseconds uint     `json:"heartbeatIntervalMilliseconds" default:"1000"`
		MasterHost                    string   `json:"masterHost" default:"localhost"`
		MasterPort                    uint16   `json:"masterPort" default:"8010"`
		MasterURL                     string   `json:"masterUrl"`
		MinAvailableMemoryBytes       uint64   `json:"minAvailableMemoryBytes" default:"524288000"`
		OutputLimitBytes              uint     `json:"outputLimitBytes" default:"262144"`
		PlanPath                      string   `json:"planPath"`
		SentryDSN                     string   `json:"sentryDsn"`
		WaitBackoffMilliseconds       uint     `json:"waitBackoffMilliseconds" default:"50"`
		WorkingDirectory              string   `json:"workingDirectory"`
	}

	PrivateConfig struct {
		AccessToken string `json:"accessToken"`
	}

	MissingConfigError struct {
		Setting string
	}
)

func (c *Config) String() string {
	cCopy := *c
	cCopy.AccessToken = "*************"
	// Marshal to json, unmarshal to an interface{} and marshal again, so the
	// nested structs are flattened and all properties come out sorted
	// alphabetically.
	j, err := json.Marshal(&cCopy)
	if err != nil {
		panic(err)
	}
	var data interface{}
	err = json.Unmarshal(j, &data)
	if err != nil {
		panic(err)
	}
	j, err = json.MarshalIndent(data, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(j)
}

func (c *Config) Validate() error {
	fields := []struct {
		value      interface{}
		name       string
		disallowed interface{}
	}{
		{value: c.ClientID, name: "clientId", disallowed: ""},
		{value: c.Command, name: "command", disallowed: []string(nil)},
		{value: c.HeartbeatIntervalMilliseconds, name: "heartbeatIntervalMilliseconds", disallowed: uint(0)},
		{value: c.PlanPath, name: "planPath", disallowed: ""},
	}

	for _, f := range fields {
		if reflect.DeepEqual(f.value, f.disallowed) {
			return MissingConfigError{Setting: f.name}
		}
	}

	if c.MasterURL == "" && (c.MasterHost == "" || c.MasterPort == 0) {
		return MissingConfigError{Setting: "masterUrl"}
	}

	// all required config set!
	return nil
}

func (err MissingConfigError) Error() string {
	return "Config setting \"" + err.Setting + "\" has not been defined"
}

// BaseURL is the root URL of the master's dispatch service. If masterUrl is
// provided, it takes precedence over masterHost and masterPort.
func (c *Config) BaseURL() string {
	if c.MasterURL != "" {
		return c.MasterURL
	}
	return cvclient.RootURLFromHostPort(c.MasterHost, c.MasterPort)
}

// Credentials returns the worker's credentials for signed calls, or nil when
// no access token is configured and calls go out unauthenticated.
func (c *Config) Credentials() *cvclient.Credentials {
	if c.AccessToken == "" {
		return nil
	}
	return &cvclient.Credentials{
		ClientID:    c.ClientID,
		AccessToken: c.AccessToken,
	}
}

func (c *Config) Dispatch() *cvdispatch.Dispatch {
	return cvdispatch.New(c.Credentials(), c.BaseURL())
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMilliseconds) * time.Millisecond
}

func (c *Config) WaitBackoff() time.Duration {
	return time.Duration(c.WaitBackoffMilliseconds) * time.Millisecond
}

type File struct {
	Path string
}

func (cf *File) UpdateConfig(c *Config) error {
	log.Printf("Loading worker config file '%v'...", cf.Path)
	configData, err := os.ReadFile(cf.Path)
	if err != nil {
		return err
	}
	buffer := bytes.NewBuffer(configData)
	decoder := json.NewDecoder(buffer)
	decoder.DisallowUnknownFields()
	var newConfig Config
	err = decoder.Decode(&newConfig)
	if err != nil {
		// An error here is serious - it means the file existed but was invalid
		return fmt.Errorf("Error unmarshaling worker config file %v as JSON: %v", cf.Path, err)
	}
	err = c.MergeInJSON(configData, func(a map[string]interface{}) map[string]interface{} {
		return a
	})
	if err != nil {
		return fmt.Errorf("Error overlaying config file %v on top of defaults: %v", cf.Path, err)
	}
	return nil
}

func (cf *File) DoesNotExist() bool {
	_, err := os.Stat(cf.Path)
	return err != nil && os.IsNotExist(err)
}
