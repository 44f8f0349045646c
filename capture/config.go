package capture

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the capture coordinator.
type Config struct {
	// FlushInterval is the periodic flush timer. Default: 500ms.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// MaxQueue bounds the number of events held between flush ticks.
	// Default: 10000.
	MaxQueue int `yaml:"max_queue"`
	// Sinks lists the output backends.
	Sinks []SinkConfig `yaml:"sinks"`
}

// SinkConfig defines one output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | store
	URL  string `yaml:"url"`  // for webhook
}

func (c *Config) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 10000
	}
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}
