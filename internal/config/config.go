// Package config loads the YAML configuration file the procpool CLI
// reads at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete on-disk configuration for a procpool deployment.
type Config struct {
	Pool struct {
		Workers       int    `yaml:"workers"`
		TaskLimit     int    `yaml:"task_limit"`
		Initializer   string `yaml:"initializer"`
		Deinitializer string `yaml:"deinitializer"`
		LockFilePath  string `yaml:"lock_file_path"`
	} `yaml:"pool"`

	Task struct {
		DefaultTimeout time.Duration `yaml:"default_timeout"`
	} `yaml:"task"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 4
	}
	return &cfg, nil
}
