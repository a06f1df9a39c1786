package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "STERNA"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing file yields defaults;
// STERNA_* environment variables override either, e.g.
// STERNA_HOST_PASSWORD for host.password.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Read environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".sterna")
	}

	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// the config file does not mention.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("host.base_url", cfg.Host.BaseURL)
	v.SetDefault("host.username", cfg.Host.Username)
	v.SetDefault("host.password", cfg.Host.Password)
	v.SetDefault("host.directory", cfg.Host.Directory)
	v.SetDefault("host.timeout_ms", cfg.Host.TimeoutMs)
	v.SetDefault("prime.command", cfg.Prime.Command)
	v.SetDefault("prime.args", cfg.Prime.Args)
	v.SetDefault("prime.dir", cfg.Prime.Dir)
	v.SetDefault("prime.timeout_ms", cfg.Prime.TimeoutMs)
	v.SetDefault("injection.scan_limit", cfg.Injection.ScanLimit)
	v.SetDefault("injection.context_limit", cfg.Injection.ContextLimit)
	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.description", cfg.Agent.Description)
	v.SetDefault("agent.prompt", cfg.Agent.Prompt)
	v.SetDefault("permission.bash_pattern", cfg.Permission.BashPattern)
	v.SetDefault("permission.bash_action", cfg.Permission.BashAction)
	v.SetDefault("host_config_path", cfg.HostConfigPath)
	v.SetDefault("agent_dir", cfg.AgentDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
	v.SetDefault("data_dir", cfg.DataDir)
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("host", cfg.Host)
	v.Set("prime", cfg.Prime)
	v.Set("injection", cfg.Injection)
	v.Set("agent", cfg.Agent)
	v.Set("permission", cfg.Permission)
	v.Set("host_config_path", cfg.HostConfigPath)
	v.Set("agent_dir", cfg.AgentDir)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sterna", "plugin.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
