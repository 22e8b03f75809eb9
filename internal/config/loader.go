package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PollYAML holds the client-side polling budget of a tracker.
type PollYAML struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// TrackerYAML is one entry of the trackers file.
type TrackerYAML struct {
	Name          string   `yaml:"name"`
	DefaultKind   string   `yaml:"default_kind"`
	RequiredKinds []string `yaml:"required_kinds"`
	Delivery      string   `yaml:"delivery"` // once, repeatable
	WorkflowURL   string   `yaml:"workflow_url"`
	Poll          PollYAML `yaml:"poll"`
}

// YAMLConfig represents the structure of trackers.yaml
type YAMLConfig struct {
	Trackers []TrackerYAML `yaml:"trackers"`
}

// LoadTrackers loads tracker definitions from a YAML file. A missing file is
// not an error: it returns nil so callers fall back to the built-in trackers.
func LoadTrackers(filepath string) (*YAMLConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading trackers file: %w", err)
	}

	var config YAMLConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	seen := make(map[string]bool, len(config.Trackers))
	for i, t := range config.Trackers {
		if t.Name == "" {
			return nil, fmt.Errorf("tracker %d: name is required", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tracker %q defined twice", t.Name)
		}
		seen[t.Name] = true
	}

	return &config, nil
}
