// Package config loads and saves the queue's JSON configuration file.
package config

import (
	"encoding/json"
	"os"
)

// Config holds the tunables that default a job's retry/backoff policy
// and a worker's polling behavior. Unknown keys in the JSON file are
// ignored by encoding/json; missing keys fall back to NewConfig's
// defaults because LoadConfig unmarshals on top of them.
type Config struct {
	MaxRetries            int      `json:"max_retries"`
	BaseBackoff           float64  `json:"base_backoff"`
	IdleTimeout           float64  `json:"idle_timeout"`
	PollInterval          float64  `json:"poll_interval"`
	DefaultTimeoutSeconds *float64 `json:"default_timeout_seconds,omitempty"`
}

const fileName = "queue_config.json"

// NewConfig returns the built-in defaults from spec: max_retries=3,
// base_backoff=2.0, idle_timeout=60, poll_interval=0.5.
func NewConfig() *Config {
	return &Config{
		MaxRetries:   3,
		BaseBackoff:  2.0,
		IdleTimeout:  60,
		PollInterval: 0.5,
	}
}

// LoadConfig reads queue_config.json from the current directory. A
// missing file is not an error: the built-in defaults are returned and
// persisted so subsequent commands see a stable file on disk.
func LoadConfig() (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, SaveConfig(cfg)
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to queue_config.json, pretty-printed.
func SaveConfig(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, data, 0644)
}
