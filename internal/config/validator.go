package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseURL validates the host base URL
func (v *Validator) ValidateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("host base_url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid host base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("host base_url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host base_url has no host")
	}
	return nil
}

// ValidateTimeout validates a millisecond timeout; zero disables it
func (v *Validator) ValidateTimeout(name string, ms int) error {
	if ms < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", name, ms)
	}
	return nil
}

// ValidateLimit validates a history lookback
func (v *Validator) ValidateLimit(name string, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, limit)
	}
	if limit > 10000 {
		return fmt.Errorf("%s too large (max 10000), got %d", name, limit)
	}
	return nil
}

// ValidateBashAction validates a permission action
func (v *Validator) ValidateBashAction(action string) error {
	validActions := []string{"allow", "ask", "deny"}
	for _, valid := range validActions {
		if action == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid bash action: %s (must be one of: %s)", action, strings.Join(validActions, ", "))
}

// ValidateListenAddr validates a host:port listen address
func (v *Validator) ValidateListenAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSampleRatio checks a trace sampling fraction. Tracing is turned
// off with tracing.enabled, not with a zero ratio.
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %g", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateBaseURL(cfg.Host.BaseURL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTimeout("host.timeout_ms", cfg.Host.TimeoutMs); err != nil {
		errors = append(errors, err)
	}
	if cfg.Host.Username != "" && cfg.Host.Password == "" {
		errors = append(errors, fmt.Errorf("host.username requires host.password"))
	}

	if strings.TrimSpace(cfg.Prime.Command) == "" {
		errors = append(errors, fmt.Errorf("prime.command is required"))
	}
	if err := v.ValidateTimeout("prime.timeout_ms", cfg.Prime.TimeoutMs); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLimit("injection.scan_limit", cfg.Injection.ScanLimit); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLimit("injection.context_limit", cfg.Injection.ContextLimit); err != nil {
		errors = append(errors, err)
	}

	if strings.ContainsAny(cfg.Agent.Name, "/\\") {
		errors = append(errors, fmt.Errorf("agent.name cannot contain path separators"))
	}
	if cfg.Permission.BashAction != "" {
		if err := v.ValidateBashAction(cfg.Permission.BashAction); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateListenAddr(cfg.Metrics.Addr); err != nil {
			errors = append(errors, fmt.Errorf("metrics.addr: %w", err))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	return errors
}
