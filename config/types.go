// Package config provides configuration types and utilities for the
// orchestrator. This file contains the concrete config types. Grounded
// on config/types.go's per-type Validate/SetDefaults pattern, retargeted
// from LLMProviderConfig/DatabaseProviderConfig/AgentConfig/WorkflowConfig
// onto ProviderConfig/StoreConfig/ServerConfig and the LoggingConfig/
// PerformanceConfig pair, which are kept close to the original since they
// are genuinely provider-agnostic ambient settings.
package config

import (
	"fmt"
	"time"
)

// ============================================================================
// PROVIDER CONFIGURATION
// ============================================================================

// ProviderConfig configures one LLM provider adapter (openai, anthropic,
// or a codeendpoint-compatible third party), resolved from
// <PROVIDER>_API_KEY / <PROVIDER>_MODEL / <PROVIDER>_BASE_URL environment
// variables per spec.md §6 once `${VAR}` expansion has run.
type ProviderConfig struct {
	Name    string  `yaml:"name"`
	Kind    string  `yaml:"kind"` // "openai", "anthropic", "codeendpoint"
	Model   string  `yaml:"model"`
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Timeout int     `yaml:"timeout"` // seconds
}

// Validate implements Config.Validate for ProviderConfig.
func (c *ProviderConfig) Validate() error {
	if c.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Kind != "codeendpoint" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for %s", c.Kind)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for ProviderConfig.
func (c *ProviderConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = "openai"
	}
	if c.BaseURL == "" {
		switch c.Kind {
		case "anthropic":
			c.BaseURL = "https://api.anthropic.com"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
}

// ============================================================================
// STORE CONFIGURATION
// ============================================================================

// StoreConfig configures the SQLite-backed Store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate implements Config.Validate for StoreConfig.
func (c *StoreConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for StoreConfig.
func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "orchestrix.db"
	}
}

// ============================================================================
// SERVER CONFIGURATION
// ============================================================================

// ServerConfig configures the chi-routed HTTP/SSE gateway.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// Validate implements Config.Validate for ServerConfig.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8761"
	}
}

// ============================================================================
// OBSERVABILITY CONFIGURATION
// ============================================================================

// TracingConfig mirrors observability.TracingConfig for YAML decoding.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	EndpointURL  string  `yaml:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Validate implements Config.Validate for TracingConfig.
func (c *TracingConfig) Validate() error {
	if c.Enabled && c.SamplingRate < 0 {
		return fmt.Errorf("sampling_rate must be non-negative")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "orchestrix"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// MetricsConfig mirrors observability.MetricsConfig for YAML decoding.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Validate implements Config.Validate for MetricsConfig.
func (c *MetricsConfig) Validate() error { return nil }

// SetDefaults implements Config.SetDefaults for MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "orchestrix"
	}
}

// ============================================================================
// LOGGING CONFIGURATION
// ============================================================================

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Validate implements Config.Validate for LoggingConfig.
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Output] {
		return fmt.Errorf("invalid output destination: %s", c.Output)
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// ============================================================================
// PERFORMANCE CONFIGURATION
// ============================================================================

// PerformanceConfig represents performance configuration.
type PerformanceConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Validate implements Config.Validate for PerformanceConfig.
func (c *PerformanceConfig) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for PerformanceConfig.
func (c *PerformanceConfig) SetDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Minute
	}
}
