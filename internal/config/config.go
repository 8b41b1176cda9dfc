// Package config loads the server configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvRoot     = "EXCALIDRAW_MCP_ROOT"
	EnvLogLevel = "EXCALIDRAW_MCP_LOG_LEVEL"
	EnvHistory  = "EXCALIDRAW_MCP_HISTORY"
)

// DefaultMaxPayloadBytes bounds document files and attachment payloads.
const DefaultMaxPayloadBytes int64 = 25 << 20

// Config holds all server configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
	Render  RenderConfig  `yaml:"render"`
}

// StorageConfig configures the document store.
type StorageConfig struct {
	Root            string `yaml:"root"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`
}

// HistoryConfig configures the revision journal.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to <storage.root>/.history.db when empty.
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// RenderConfig configures image export.
type RenderConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxDimension int  `yaml:"max_dimension"`
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultDir returns ~/.excalidraw-mcp, or a relative fallback when the
// home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".excalidraw-mcp"
	}
	return filepath.Join(home, ".excalidraw-mcp")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:            filepath.Join(DefaultDir(), "scenes"),
			MaxPayloadBytes: DefaultMaxPayloadBytes,
		},
		History: HistoryConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info"},
		Render:  RenderConfig{Enabled: true, MaxDimension: 4096},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if root := os.Getenv(EnvRoot); root != "" {
		c.Storage.Root = root
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	switch strings.ToLower(os.Getenv(EnvHistory)) {
	case "0", "false", "off", "no":
		c.History.Enabled = false
	case "1", "true", "on", "yes":
		c.History.Enabled = true
	}
}

// HistoryPath returns the journal location, defaulting under the storage root.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Storage.Root, ".history.db")
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if c.Storage.MaxPayloadBytes <= 0 {
		return fmt.Errorf("storage.max_payload_bytes must be positive, got %d", c.Storage.MaxPayloadBytes)
	}
	if c.Render.MaxDimension <= 0 {
		return fmt.Errorf("render.max_dimension must be positive, got %d", c.Render.MaxDimension)
	}
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			return nil
		}
	}
	return fmt.Errorf("invalid logging.level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
}
