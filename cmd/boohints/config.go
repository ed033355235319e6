package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration file. Flags override its fields.
type fileConfig struct {
	Bin          string            `yaml:"bin"`
	Args         []string          `yaml:"args"`
	ResponseFile string            `yaml:"rsp"`
	Dir          string            `yaml:"dir"`
	Env          map[string]string `yaml:"env"`
	IdleTimeout  *duration         `yaml:"idle_timeout"`
	QueryTimeout *duration         `yaml:"query_timeout"`
	Watch        bool              `yaml:"watch"`
}

// duration wraps time.Duration so the config can use human-readable
// strings like "30s" or "5m".
type duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for duration.
func (d *duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	d.Duration = parsed

	return nil
}

// MarshalYAML implements yaml.Marshaler for duration.
func (d duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// loadConfig reads and parses the YAML configuration file.
func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}
