// Package config provides configuration management for ssh-fleet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application settings. Server definitions live in
// the fleet file, see FleetConfig.
type Config struct {
	Threads           int           `mapstructure:"threads"`             // Worker count, 0 means one per CPU
	MaxRetry          uint          `mapstructure:"max-retry"`           // Retries per task after the first attempt
	OpTimeout         time.Duration `mapstructure:"op-timeout"`          // Deadline per task attempt, 0 for none
	ConnectTimeout    time.Duration `mapstructure:"connect-timeout"`     // SSH dial and handshake timeout
	Output            string        `mapstructure:"output"`              // Outcome format (text, json)
	Quiet             bool          `mapstructure:"quiet"`               // Suppress non-error output
	DryRun            bool          `mapstructure:"dry-run"`             // Show plan without connecting
	LogLevel          string        `mapstructure:"log-level"`           // debug, info, warn, error
	LogFormat         string        `mapstructure:"log-format"`          // json, text
	ShowProgress      bool          `mapstructure:"progress"`            // Show progress bar
	ShowStats         bool          `mapstructure:"stats"`               // Show statistics summary
	StrictHostKey     bool          `mapstructure:"strict-host-key"`     // Verify against known_hosts
	KnownHosts        string        `mapstructure:"known-hosts"`         // known_hosts path
	ShellDrainTimeout time.Duration `mapstructure:"shell-drain-timeout"` // Wait for shell output after exit
	ComponentDir      string        `mapstructure:"component-dir"`       // Component descriptor directory
	ChunkSize         int           `mapstructure:"chunk-size"`          // Transfer chunk size in bytes
	ProgressInterval  time.Duration `mapstructure:"progress-interval"`   // Transfer progress tick
}

// EffectiveThreads resolves the automatic worker count
func (c *Config) EffectiveThreads() int {
	if c.Threads == 0 {
		return runtime.NumCPU()
	}
	return c.Threads
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v     *viper.Viper
	paths []string
}

// NewManager creates a new configuration manager
func NewManager() Manager {
	return &ViperManager{
		v: viper.New(),
	}
}

// NewManagerWithPaths creates a manager that only searches the given directories
func NewManagerWithPaths(paths ...string) *ViperManager {
	return &ViperManager{
		v:     viper.New(),
		paths: paths,
	}
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("threads", 0)
	m.v.SetDefault("max-retry", 0)
	m.v.SetDefault("op-timeout", time.Duration(0))
	m.v.SetDefault("connect-timeout", 30*time.Second)
	m.v.SetDefault("output", "text")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "warn")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("progress", false)
	m.v.SetDefault("stats", false)
	m.v.SetDefault("strict-host-key", false)
	m.v.SetDefault("known-hosts", "")
	m.v.SetDefault("shell-drain-timeout", 2*time.Second)
	m.v.SetDefault("component-dir", "components")
	m.v.SetDefault("chunk-size", 64*1024)
	m.v.SetDefault("progress-interval", time.Second)
}

func (m *ViperManager) searchPaths() []string {
	if m.paths != nil {
		return m.paths
	}

	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "ssh-fleet"))
	}
	return append(paths, "/etc/ssh-fleet/")
}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	m.v.SetConfigName("settings")
	for _, p := range m.searchPaths() {
		m.v.AddConfigPath(p)
	}

	m.v.SetEnvPrefix("SSH_FLEET")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading settings file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ConfigFileUsed returns the settings file that was read, if any
func (m *ViperManager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	if config.Threads < 0 {
		return fmt.Errorf("threads must be non-negative, got %d", config.Threads)
	}

	if config.OpTimeout < 0 {
		return fmt.Errorf("op-timeout must be non-negative, got %v", config.OpTimeout)
	}
	if config.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive, got %v", config.ConnectTimeout)
	}
	if config.ShellDrainTimeout < 0 {
		return fmt.Errorf("shell-drain-timeout must be non-negative, got %v", config.ShellDrainTimeout)
	}
	if config.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive, got %d", config.ChunkSize)
	}
	if config.ProgressInterval < 0 {
		return fmt.Errorf("progress-interval must be non-negative, got %v", config.ProgressInterval)
	}

	validOutputs := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validOutputs[config.Output] {
		return fmt.Errorf("invalid output format '%s': must be one of 'text' or 'json'", config.Output)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info', 'warn' or 'error'", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	return nil
}

// GetEnvVarNames returns a list of all supported environment variable names
func GetEnvVarNames() []string {
	keys := []string{
		"threads", "max-retry", "op-timeout", "connect-timeout", "output", "quiet",
		"dry-run", "log-level", "log-format", "progress", "stats", "strict-host-key",
		"known-hosts", "shell-drain-timeout", "component-dir", "chunk-size", "progress-interval",
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = "SSH_FLEET_" + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
	}
	return names
}
