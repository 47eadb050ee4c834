// Package config provides configuration types and utilities for the
// orchestrator. This file contains the main unified configuration entry
// point. Grounded on config/config.go's Validate/SetDefaults
// unified-entry-point shape, retargeted from the provider/database/
// embedder/agent/workflow/tool/plugin surface onto the orchestrator's
// store/server/provider/observability/preset surface.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// MAIN UNIFIED CONFIGURATION
// ============================================================================

// Config represents the complete process configuration: the single entry
// point loaded once at startup by cmd/orchestrix.
type Config struct {
	Version     string `yaml:"version,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	Global GlobalSettings `yaml:"global,omitempty"`

	Store     StoreConfig               `yaml:"store,omitempty"`
	Server    ServerConfig              `yaml:"server,omitempty"`
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`

	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	PresetDirs []string `yaml:"preset_dirs,omitempty"`
}

// Validate implements Config.Validate for Config.
func (c *Config) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider '%s' validation failed: %w", name, err)
		}
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for Config.
func (c *Config) SetDefaults() {
	c.Global.SetDefaults()
	c.Store.SetDefaults()
	c.Server.SetDefaults()

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name := range c.Providers {
		p := c.Providers[name]
		p.Name = name
		p.SetDefaults()
		c.Providers[name] = p
	}

	if len(c.PresetDirs) == 0 {
		c.PresetDirs = DefaultPresetDirs()
	}
}

// ============================================================================
// GLOBAL SETTINGS
// ============================================================================

// GlobalSettings contains global configuration settings.
type GlobalSettings struct {
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Performance PerformanceConfig `yaml:"performance,omitempty"`
}

// Validate implements Config.Validate for GlobalSettings.
func (c *GlobalSettings) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if err := c.Performance.Validate(); err != nil {
		return fmt.Errorf("performance config validation failed: %w", err)
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for GlobalSettings.
func (c *GlobalSettings) SetDefaults() {
	c.Logging.SetDefaults()
	c.Performance.SetDefaults()
}

// ============================================================================
// CONFIGURATION LOADING
// ============================================================================

// Load reads a YAML config file, expands `${VAR}`-style environment
// references throughout it, and applies defaults. A missing file is not
// an error: Load returns a defaulted zero-config instance, matching the
// teacher's zero-config philosophy.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.SetDefaults()
				return &cfg, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := LoadFromString(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		cfg.SetDefaults()
		return &cfg, nil
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// LoadFromString decodes YAML content into cfg after expanding
// environment variable references.
func LoadFromString(yamlContent string, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	expanded := ExpandEnvVarsInData(raw)
	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return fmt.Errorf("re-encode expanded config: %w", err)
	}
	if err := yaml.Unmarshal(reencoded, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ============================================================================
// HELPER METHODS
// ============================================================================

// GetProvider returns a provider configuration by name.
func (c *Config) GetProvider(name string) (*ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return &p, ok
}

// ListProviders returns every configured provider name.
func (c *Config) ListProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	return names
}
