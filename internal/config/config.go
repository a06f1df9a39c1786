package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the sterna-opencode configuration
type Config struct {
	// OpenCode server
	Host HostConfig `json:"host" mapstructure:"host"`

	// Priming command
	Prime PrimeConfig `json:"prime" mapstructure:"prime"`

	// Injection lookbacks
	Injection InjectionConfig `json:"injection" mapstructure:"injection"`

	// Task agent profile registered with the host
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Permission amendment
	Permission PermissionConfig `json:"permission" mapstructure:"permission"`

	// Host config file amended by `configure`; empty means ./opencode.json
	HostConfigPath string `json:"host_config_path" mapstructure:"host_config_path"`

	// Directory for agent markdown files; empty means .opencode/agent
	AgentDir string `json:"agent_dir" mapstructure:"agent_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// HostConfig holds the OpenCode server connection
type HostConfig struct {
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	Username  string `json:"username" mapstructure:"username"`
	Password  string `json:"password" mapstructure:"password"`
	Directory string `json:"directory" mapstructure:"directory"`
	TimeoutMs int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// PrimeConfig holds the priming command
type PrimeConfig struct {
	Command   string            `json:"command" mapstructure:"command"`
	Args      []string          `json:"args" mapstructure:"args"`
	Dir       string            `json:"dir" mapstructure:"dir"`
	Env       map[string]string `json:"env" mapstructure:"env"`
	TimeoutMs int               `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// InjectionConfig bounds the history lookbacks
type InjectionConfig struct {
	ScanLimit    int `json:"scan_limit" mapstructure:"scan_limit"`
	ContextLimit int `json:"context_limit" mapstructure:"context_limit"`
}

// AgentConfig describes the subagent profile; empty fields use built-ins
type AgentConfig struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
	Prompt      string `json:"prompt" mapstructure:"prompt"`
}

// PermissionConfig holds the bash permission entry
type PermissionConfig struct {
	BashPattern string `json:"bash_pattern" mapstructure:"bash_pattern"`
	BashAction  string `json:"bash_action" mapstructure:"bash_action"` // allow, ask, deny
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // fraction of traces kept, (0, 1]
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			BaseURL:   "http://127.0.0.1:4096",
			TimeoutMs: 30000,
		},
		Prime: PrimeConfig{
			Command:   "st",
			Args:      []string{"prime"},
			TimeoutMs: 30000,
		},
		Injection: InjectionConfig{
			ScanLimit:    100,
			ContextLimit: 50,
		},
		Permission: PermissionConfig{
			BashPattern: "st *",
			BashAction:  "allow",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sterna-opencode",
			SampleRatio: 1,
		},
	}
}

// HostTimeout returns the host request timeout.
func (c *Config) HostTimeout() time.Duration {
	return time.Duration(c.Host.TimeoutMs) * time.Millisecond
}

// PrimeTimeout returns the priming command timeout.
func (c *Config) PrimeTimeout() time.Duration {
	return time.Duration(c.Prime.TimeoutMs) * time.Millisecond
}

// String returns a JSON representation of the config with the host
// password masked
func (c *Config) String() string {
	masked := *c
	if masked.Host.Password != "" {
		masked.Host.Password = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errs[0])
	}
	return nil
}
