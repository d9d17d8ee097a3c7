package master

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// Config holds everything the master needs to run one dispatch session.
type Config struct {
	// Name labels the session in status output and events.
	Name string `yaml:"name" default:"conveyor"`

	// Port is the TCP port the dispatch service listens on.
	Port uint16 `yaml:"port" default:"8010"`

	// PlanPath is the plan file enumerating the tests, in order.
	PlanPath string `yaml:"planPath"`

	// ExpectedWorkers is how many workers must validate before any test is
	// dispatched. Until then claims are answered waiting-for-clients.
	ExpectedWorkers int `yaml:"expectedWorkers" default:"1"`

	// LivenessTimeoutSeconds is how long a worker may go without a
	// keep-alive before it is expired and its in-flight test requeued.
	LivenessTimeoutSeconds uint `yaml:"livenessTimeoutSeconds" default:"30"`

	// AccessToken, when set, makes the master require Hawk-signed requests
	// on all mutating routes.
	AccessToken string `yaml:"accessToken"`

	// AMQPURL, when set, turns on event publishing to this broker.
	AMQPURL string `yaml:"amqpUrl"`

	// ResultsDir, when set, persists each submitted result blob under it.
	ResultsDir string `yaml:"resultsDir"`

	// ArchiveResults packs ResultsDir into a tar.gz when the session
	// finishes.
	ArchiveResults bool `yaml:"archiveResults"`

	// MaxResultsBytes caps the total raw result bytes retained; past it,
	// summaries are still recorded but blobs are no longer kept. Zero or
	// negative means no cap.
	MaxResultsBytes int64 `yaml:"maxResultsBytes" default:"16777216"`

	// SessionID overrides the generated session identifier. Mainly for
	// tests.
	SessionID string `yaml:"sessionId"`

	Logger *logrus.Logger `yaml:"-"`
}

// DefaultConfig returns a config with every defaulted field populated.
func DefaultConfig() *Config {
	c := new(Config)
	defaults.SetDefaults(c)
	return c
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file %v: %v", path, err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port must be set")
	}
	if c.ExpectedWorkers < 1 {
		return fmt.Errorf("expectedWorkers must be at least 1, got %v", c.ExpectedWorkers)
	}
	if c.LivenessTimeoutSeconds == 0 {
		return fmt.Errorf("livenessTimeoutSeconds must be at least 1")
	}
	if c.ArchiveResults && c.ResultsDir == "" {
		return fmt.Errorf("archiveResults requires resultsDir")
	}
	return nil
}

func (c *Config) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSeconds) * time.Second
}
