package taskrouter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level router configuration.
type Config struct {
	DefaultTask string        `yaml:"default_task"`
	Retry       RetryConfig   `yaml:"retry"`
	Models      []ModelConfig `yaml:"models"`
	Tasks       []TaskConfig  `yaml:"tasks"`
}

// RetryConfig controls the per-candidate retry schedule.
type RetryConfig struct {
	// MaxAttempts is the number of backend calls allowed against one
	// candidate model before falling back to the next.
	MaxAttempts int `yaml:"max_attempts"`

	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`

	// RequestTimeout bounds each individual backend call.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// ModelConfig declares one backend model and its rate limits.
type ModelConfig struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
	RPM     int    `yaml:"rpm"`
	RPD     int    `yaml:"rpd"`
}

// TaskConfig maps a task category to its candidate models, primary first.
type TaskConfig struct {
	Name   string   `yaml:"name"`
	Models []string `yaml:"models"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "8s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("taskrouter: config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Retry defaults applied by withDefaults.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 8 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("taskrouter: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("taskrouter: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// withDefaults fills unset retry fields.
func (c Config) withDefaults() Config {
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = Duration(defaultInitialBackoff)
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = Duration(defaultMaxBackoff)
	}
	if c.Retry.RequestTimeout == 0 {
		c.Retry.RequestTimeout = Duration(defaultRequestTimeout)
	}
	return c
}

// Validate checks the config for required fields and consistency.
// A failure here is a startup-time fatal condition.
func (c Config) Validate() error {
	if len(c.Models) == 0 {
		return configErrorf("at least one model is required")
	}
	if len(c.Tasks) == 0 {
		return configErrorf("at least one task is required")
	}

	modelNames := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return configErrorf("models[%d]: name is required", i)
		}
		if modelNames[m.Name] {
			return configErrorf("duplicate model name %q", m.Name)
		}
		modelNames[m.Name] = true

		if m.Backend == "" {
			return configErrorf("models[%d] (%s): backend is required", i, m.Name)
		}
		if m.RPM <= 0 {
			return configErrorf("models[%d] (%s): rpm must be positive, got %d", i, m.Name, m.RPM)
		}
		if m.RPD <= 0 {
			return configErrorf("models[%d] (%s): rpd must be positive, got %d", i, m.Name, m.RPD)
		}
	}

	taskNames := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Name == "" {
			return configErrorf("tasks[%d]: name is required", i)
		}
		if taskNames[t.Name] {
			return configErrorf("duplicate task name %q", t.Name)
		}
		taskNames[t.Name] = true

		if len(t.Models) == 0 {
			return configErrorf("tasks[%d] (%s): at least one candidate model is required", i, t.Name)
		}
		for _, name := range t.Models {
			if !modelNames[name] {
				return configErrorf("tasks[%d] (%s): unknown model %q", i, t.Name, name)
			}
		}
	}

	if c.DefaultTask != "" && !taskNames[c.DefaultTask] {
		return configErrorf("default_task %q is not a configured task", c.DefaultTask)
	}

	if c.Retry.MaxAttempts < 0 {
		return configErrorf("retry: max_attempts must not be negative")
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 || c.Retry.RequestTimeout < 0 {
		return configErrorf("retry: durations must not be negative")
	}

	return nil
}
