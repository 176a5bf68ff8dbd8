package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the dashboard server.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// Dashboard settings
	Site           string `json:"site,omitempty" yaml:"site,omitempty"`
	Window         string `json:"window,omitempty" yaml:"window,omitempty"`                   // trailing range, e.g. "24h"
	ReloadInterval string `json:"reload_interval,omitempty" yaml:"reload_interval,omitempty"` // "0" disables periodic reloads
	FetchTimeout   string `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
	JobLimit       int    `json:"job_limit,omitempty" yaml:"job_limit,omitempty"` // 0 uses the dashboard default

	// Buffer sizes
	SampleBufferSize int `json:"sample_buffer_size,omitempty" yaml:"sample_buffer_size,omitempty"`
	JobBufferSize    int `json:"job_buffer_size,omitempty" yaml:"job_buffer_size,omitempty"`

	// OTLP metrics receiver; OTLPPort -1 disables it
	OTLPHost string `json:"otlp_host,omitempty" yaml:"otlp_host,omitempty"`
	OTLPPort int    `json:"otlp_port,omitempty" yaml:"otlp_port,omitempty"`

	// MCP transport configuration
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"` // "stdio" (default), "http" or "none"
	HTTPHost  string `json:"http_host,omitempty" yaml:"http_host,omitempty"`
	HTTPPort  int    `json:"http_port,omitempty" yaml:"http_port,omitempty"`
	Stateless bool   `json:"stateless,omitempty" yaml:"stateless,omitempty"`

	// Web UI configuration
	WebUIPort int    `json:"webui_port,omitempty" yaml:"webui_port,omitempty"` // 0 = same port as HTTP transport
	WebUIHost string `json:"webui_host,omitempty" yaml:"webui_host,omitempty"`

	// File sources
	DataDirs   []string `json:"data_dirs,omitempty" yaml:"data_dirs,omitempty"`
	OtelConfig string   `json:"otel_config,omitempty" yaml:"otel_config,omitempty"` // collector config to discover data dirs from
	ActiveOnly bool     `json:"active_only,omitempty" yaml:"active_only,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// - a 24 hour window reloaded every minute
// - 100,000 metric samples and 10,000 job records buffered
// - OTLP on localhost with an ephemeral port
// - stdio transport (or http on port 4390)
func DefaultConfig() *Config {
	return &Config{
		Site:             "default",
		Window:           "24h",
		ReloadInterval:   "1m",
		FetchTimeout:     "30s",
		SampleBufferSize: 100_000,
		JobBufferSize:    10_000,
		OTLPHost:         "127.0.0.1",
		OTLPPort:         0, // 0 means ephemeral port assignment
		Transport:        "stdio",
		HTTPHost:         "127.0.0.1",
		HTTPPort:         4390,
		WebUIHost:        "127.0.0.1",
		WebUIPort:        0,
	}
}

// Durations parsed from the string fields.
type Durations struct {
	Window         time.Duration
	ReloadInterval time.Duration
	FetchTimeout   time.Duration
}

// Durations parses the duration fields. An empty or "0" reload interval
// disables periodic reloads.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	var err error
	if d.Window, err = time.ParseDuration(c.Window); err != nil {
		return d, fmt.Errorf("invalid window %q: %w", c.Window, err)
	}
	if d.Window <= 0 {
		return d, fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.ReloadInterval != "" && c.ReloadInterval != "0" {
		if d.ReloadInterval, err = time.ParseDuration(c.ReloadInterval); err != nil {
			return d, fmt.Errorf("invalid reload interval %q: %w", c.ReloadInterval, err)
		}
	}
	if c.FetchTimeout != "" {
		if d.FetchTimeout, err = time.ParseDuration(c.FetchTimeout); err != nil {
			return d, fmt.Errorf("invalid fetch timeout %q: %w", c.FetchTimeout, err)
		}
	}
	return d, nil
}

// LoadConfigFromFile loads configuration from a JSON or YAML file at the
// given path. Files ending in .yaml or .yml are decoded as YAML.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// projectConfigNames are checked in order in each directory.
var projectConfigNames = []string{".jpm-dash.json", ".jpm-dash.yaml", ".jpm-dash.yml"}

// FindProjectConfig searches for a .jpm-dash.json (or .yaml) config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findProjectConfigFrom(dir)
}

func findProjectConfigFrom(dir string) (string, error) {
	for {
		for _, name := range projectConfigNames {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath, nil
			}
		}

		// Stop at the repo root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/jpm-dash/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jpm-dash", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	// Dashboard settings
	if overlay.Site != "" {
		merged.Site = overlay.Site
	}
	if overlay.Window != "" {
		merged.Window = overlay.Window
	}
	if overlay.ReloadInterval != "" {
		merged.ReloadInterval = overlay.ReloadInterval
	}
	if overlay.FetchTimeout != "" {
		merged.FetchTimeout = overlay.FetchTimeout
	}
	if overlay.JobLimit > 0 {
		merged.JobLimit = overlay.JobLimit
	}

	// Buffer sizes
	if overlay.SampleBufferSize > 0 {
		merged.SampleBufferSize = overlay.SampleBufferSize
	}
	if overlay.JobBufferSize > 0 {
		merged.JobBufferSize = overlay.JobBufferSize
	}

	// OTLP receiver
	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}

	// Transport settings
	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}
	if overlay.HTTPHost != "" {
		merged.HTTPHost = overlay.HTTPHost
	}
	if overlay.HTTPPort > 0 {
		merged.HTTPPort = overlay.HTTPPort
	}
	if overlay.Stateless {
		merged.Stateless = overlay.Stateless
	}

	// Web UI settings
	if overlay.WebUIPort > 0 {
		merged.WebUIPort = overlay.WebUIPort
	}
	if overlay.WebUIHost != "" {
		merged.WebUIHost = overlay.WebUIHost
	}

	// File sources accumulate across layers
	for _, dir := range overlay.DataDirs {
		if !contains(merged.DataDirs, dir) {
			merged.DataDirs = append(merged.DataDirs, dir)
		}
	}
	if overlay.OtelConfig != "" {
		merged.OtelConfig = overlay.OtelConfig
	}
	if overlay.ActiveOnly {
		merged.ActiveOnly = overlay.ActiveOnly
	}

	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists and no explicit path)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}
