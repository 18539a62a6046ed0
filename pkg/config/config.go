// Package config provides the unified configuration system for the
// exposure store builder. A single Config structure covers every tunable
// of a build run, organized into logical sections:
//
//   - Ingest: window size, coercion tolerance, spatial columns
//   - Performance: worker and buffer sizing
//   - Export: output directory and format options
//   - Logging: level and encoding
//
// Configuration is resolved in three layers: built-in defaults, an
// optional YAML file, then command-line flags applied by the CLI.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrorPolicy selects how the driver reacts when a single source file
// fails to ingest.
type ErrorPolicy string

const (
	// PolicyAbort fails the whole run on the first file-level ingest
	// error. This is the default: the store's schema guarantee assumes
	// all intended sources contributed.
	PolicyAbort ErrorPolicy = "abort"
	// PolicySkip records the failed file in the run summary and
	// continues with the remaining files.
	PolicySkip ErrorPolicy = "skip"
)

// Config is the single configuration structure for a build run.
type Config struct {
	Ingest      IngestConfig      `yaml:"ingest" json:"ingest"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Export      ExportConfig      `yaml:"export" json:"export"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// IngestConfig controls reading and coercion of source files.
type IngestConfig struct {
	// WindowSize is the number of rows a reader holds in memory at once.
	// Source files may be arbitrarily large; this bounds peak memory.
	WindowSize int `yaml:"window_size" json:"window_size"`
	// OnError is the tolerance policy for file-level ingest failures.
	OnError ErrorPolicy `yaml:"on_error" json:"on_error"`
	// LatitudeColumn and LongitudeColumn name the spatial columns the
	// bucketer requires in the common schema.
	LatitudeColumn  string `yaml:"latitude_column" json:"latitude_column"`
	LongitudeColumn string `yaml:"longitude_column" json:"longitude_column"`
}

// PerformanceConfig controls concurrency and buffering.
type PerformanceConfig struct {
	// Workers is the number of concurrent per-file reader tasks.
	Workers int `yaml:"workers" json:"workers"`
	// ResultBuffer is the capacity of the chunk channel between the
	// reader tasks and the single committing consumer.
	ResultBuffer int `yaml:"result_buffer" json:"result_buffer"`
}

// ExportConfig controls the persisted output.
type ExportConfig struct {
	// Dir is the directory the store, slice index and manifest are
	// written to.
	Dir string `yaml:"dir" json:"dir"`
	// Compress enables zstd compression of the exported Arrow files.
	Compress bool `yaml:"compress" json:"compress"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
}

// Default returns a Config with sensible defaults for a build run.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			WindowSize:      1_000_000,
			OnError:         PolicyAbort,
			LatitudeColumn:  "LATITUDE",
			LongitudeColumn: "LONGITUDE",
		},
		Performance: PerformanceConfig{
			Workers:      runtime.NumCPU(),
			ResultBuffer: 16,
		},
		Export: ExportConfig{
			Dir:      "exposure-store",
			Compress: false,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Ingest.WindowSize <= 0 {
		return fmt.Errorf("ingest.window_size must be positive, got %d", c.Ingest.WindowSize)
	}
	if c.Ingest.OnError != PolicyAbort && c.Ingest.OnError != PolicySkip {
		return fmt.Errorf("ingest.on_error must be %q or %q, got %q", PolicyAbort, PolicySkip, c.Ingest.OnError)
	}
	if c.Ingest.LatitudeColumn == "" || c.Ingest.LongitudeColumn == "" {
		return fmt.Errorf("ingest latitude/longitude column names must not be empty")
	}
	if c.Performance.Workers <= 0 {
		return fmt.Errorf("performance.workers must be positive, got %d", c.Performance.Workers)
	}
	if c.Performance.ResultBuffer < 0 {
		return fmt.Errorf("performance.result_buffer must not be negative, got %d", c.Performance.ResultBuffer)
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir must not be empty")
	}
	return nil
}
