// Package config handles batch configuration: defaults, an optional YAML
// file, and command-line overrides applied by the caller.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use strings like "300s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all batch processor settings.
type Config struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`

	MaxWorkers  int      `yaml:"max_workers"`
	TaskTimeout Duration `yaml:"task_timeout"`
	MaxRecords  int      `yaml:"max_records"`
	ScanDepth   int      `yaml:"scan_depth"`

	// MemoryLimitMB caps the memory the batch should consume; 0 means the
	// built-in defaults. When set, warning/critical thresholds derive from
	// it (70% / 90%).
	MemoryLimitMB   float64  `yaml:"memory_limit_mb"`
	LargeFileMB     float64  `yaml:"large_file_mb"`
	MonitorInterval Duration `yaml:"monitor_interval"`

	SaveErrorReport bool   `yaml:"save_error_report"`
	LogLevel        string `yaml:"log_level"`
	Verbose         bool   `yaml:"verbose"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		InputDir:        ".",
		OutputDir:       "./output",
		MaxWorkers:      runtime.NumCPU(),
		TaskTimeout:     Duration{300 * time.Second},
		MaxRecords:      0,
		ScanDepth:       2,
		MemoryLimitMB:   0,
		LargeFileMB:     1000,
		MonitorInterval: Duration{5 * time.Second},
		SaveErrorReport: true,
		LogLevel:        "info",
	}
}

// Load reads configuration from an optional YAML file merged over defaults.
// A missing file is not an error; only defaults are used then.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration before any task is dispatched. These are
// the only errors that propagate to the caller of a batch run.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input directory is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1 (got %d)", c.MaxWorkers)
	}
	if c.TaskTimeout.Duration <= 0 {
		return fmt.Errorf("task_timeout must be positive (got %s)", c.TaskTimeout.Duration)
	}
	if c.MaxRecords < 0 {
		return fmt.Errorf("max_records must not be negative (got %d)", c.MaxRecords)
	}
	if c.ScanDepth < 1 {
		return fmt.Errorf("scan_depth must be at least 1 (got %d)", c.ScanDepth)
	}
	if c.MemoryLimitMB < 0 {
		return fmt.Errorf("memory_limit_mb must not be negative (got %g)", c.MemoryLimitMB)
	}
	return nil
}
