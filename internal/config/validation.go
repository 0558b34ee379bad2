package config

import (
	"fmt"
	"strings"
)

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// ValidationError represents a single config validation problem
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is every problem found in one pass
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate fills zero values with defaults and rejects values that cannot work
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.ProjectID == "" {
		c.ProjectID = def.ProjectID
	}
	if c.TenantID == "" {
		c.TenantID = def.TenantID
	}
	if c.Logging == nil {
		c.Logging = DefaultLogConfig()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Filename == "" {
		c.Logging.Filename = def.Logging.Filename
	}
	if c.HotReload.Interval == 0 {
		c.HotReload.Interval = def.HotReload.Interval
	}
	if c.Activity.Retention == 0 {
		c.Activity.Retention = def.Activity.Retention
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}

	var errs ValidationErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !logLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	if c.HotReload.Interval < 0 {
		add("hot_reload.interval", "must not be negative")
	}

	e := c.Execution
	if e.Timeout <= 0 {
		add("execution.timeout", "must be positive")
	}
	if e.MaxAttempts < 1 {
		add("execution.max_attempts", "must be at least 1")
	}
	if e.InitialBackoff < 0 || e.MaxBackoff < 0 {
		add("execution.initial_backoff", "backoff must not be negative")
	}
	if e.MaxBackoff < e.InitialBackoff {
		add("execution.max_backoff", "must be at least initial_backoff")
	}
	if e.Multiplier < 1 {
		add("execution.multiplier", "must be at least 1")
	}
	if e.Jitter < 0 || e.Jitter >= 1 {
		add("execution.jitter", "must be in [0, 1)")
	}
	if e.RatePerMinute < 0 {
		add("execution.rate_per_minute", "must not be negative")
	}
	if e.RatePerMinute > 0 && e.Burst < 1 {
		add("execution.burst", "must be at least 1 when rate limiting is enabled")
	}
	if e.MaxResponseBytes <= 0 {
		add("execution.max_response_bytes", "must be positive")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		add("tracing.sample_rate", "must be in [0, 1]")
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		add("tracing.otlp_endpoint", "is required when tracing is enabled")
	}
	if c.Activity.Retention < 0 {
		add("activity.retention", "must not be negative")
	}

	for i, conn := range c.Connectors {
		if strings.TrimSpace(conn.Path) == "" {
			add(fmt.Sprintf("connectors[%d].path", i), "is required")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
