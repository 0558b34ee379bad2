// Package config holds the gateway configuration and its loader
package config

import (
	"time"

	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
	"github.com/smart-mcp-proxy/mcpgateway/internal/upstream"
)

const (
	DefaultDataDir   = ".mcpgateway"
	DefaultProjectID = "default"
	DefaultTenantID  = "default-tenant"
	DefaultLogSubdir = "logs"
)

// Config represents the main configuration structure
type Config struct {
	DataDir            string            `json:"data_dir" mapstructure:"data_dir"`
	Listen             string            `json:"listen" mapstructure:"listen"` // management HTTP; empty disables
	APIKey             string            `json:"api_key,omitempty" mapstructure:"api_key"`
	ProjectID          string            `json:"project_id" mapstructure:"project_id"`
	TenantID           string            `json:"tenant_id" mapstructure:"tenant_id"`
	ConnectorsDir      string            `json:"connectors_dir,omitempty" mapstructure:"connectors_dir"`
	Connectors         []ConnectorConfig `json:"connectors,omitempty" mapstructure:"connectors"`
	EnableBuiltinTools bool              `json:"enable_builtin_tools" mapstructure:"enable_builtin_tools"`

	HotReload HotReloadConfig `json:"hot_reload" mapstructure:"hot_reload"`
	Execution ExecutionConfig `json:"execution" mapstructure:"execution"`
	Logging   *LogConfig      `json:"logging,omitempty" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
	Activity  ActivityConfig  `json:"activity" mapstructure:"activity"`
}

// ConnectorConfig installs one manifest file at startup
type ConnectorConfig struct {
	Path    string         `json:"path" mapstructure:"path"`
	Enabled *bool          `json:"enabled,omitempty" mapstructure:"enabled"` // default true
	Config  map[string]any `json:"config,omitempty" mapstructure:"config"`
}

// IsEnabled reports the effective enabled flag
func (c ConnectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HotReloadConfig controls manifest change detection
type HotReloadConfig struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `json:"interval" mapstructure:"interval"`
	Watch       bool          `json:"watch" mapstructure:"watch"` // fsnotify in addition to polling
	CheckOnList bool          `json:"check_on_list" mapstructure:"check_on_list"`
}

// ExecutionConfig tunes outbound tool calls
type ExecutionConfig struct {
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxAttempts      int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `json:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	Multiplier       float64       `json:"multiplier" mapstructure:"multiplier"`
	Jitter           float64       `json:"jitter" mapstructure:"jitter"`
	RatePerMinute    float64       `json:"rate_per_minute" mapstructure:"rate_per_minute"`
	Burst            int           `json:"burst" mapstructure:"burst"`
	MaxResponseBytes int64         `json:"max_response_bytes" mapstructure:"max_response_bytes"`
}

// Upstream converts to the execution client's settings
func (e ExecutionConfig) Upstream() upstream.ExecutionConfig {
	return upstream.ExecutionConfig{
		Timeout:          e.Timeout,
		MaxAttempts:      e.MaxAttempts,
		InitialBackoff:   e.InitialBackoff,
		MaxBackoff:       e.MaxBackoff,
		Multiplier:       e.Multiplier,
		Jitter:           e.Jitter,
		RatePerMinute:    e.RatePerMinute,
		Burst:            e.Burst,
		MaxResponseBytes: e.MaxResponseBytes,
	}
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log_dir"` // default <data_dir>/logs
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"service_name" mapstructure:"service_name"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample_rate"`
}

// Observability converts to the observability manager's settings
func (c *Config) Observability(version string) observability.Config {
	return observability.Config{
		MetricsEnabled: c.Metrics.Enabled,
		Tracing: observability.TracingConfig{
			Enabled:        c.Tracing.Enabled,
			ServiceName:    c.Tracing.ServiceName,
			ServiceVersion: version,
			OTLPEndpoint:   c.Tracing.OTLPEndpoint,
			SampleRate:     c.Tracing.SampleRate,
		},
	}
}

// ActivityConfig controls the persisted activity log
type ActivityConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Retention  time.Duration `json:"retention" mapstructure:"retention"`
	MaxRecords int           `json:"max_records" mapstructure:"max_records"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	exec := upstream.DefaultExecutionConfig()
	return &Config{
		DataDir:   "", // resolved to ~/.mcpgateway by the loader
		ProjectID: DefaultProjectID,
		TenantID:  DefaultTenantID,
		HotReload: HotReloadConfig{
			Enabled:     true,
			Interval:    5 * time.Second,
			Watch:       true,
			CheckOnList: true,
		},
		Execution: ExecutionConfig{
			Timeout:          exec.Timeout,
			MaxAttempts:      exec.MaxAttempts,
			InitialBackoff:   exec.InitialBackoff,
			MaxBackoff:       exec.MaxBackoff,
			Multiplier:       exec.Multiplier,
			Jitter:           exec.Jitter,
			RatePerMinute:    exec.RatePerMinute,
			Burst:            exec.Burst,
			MaxResponseBytes: exec.MaxResponseBytes,
		},
		Logging: DefaultLogConfig(),
		Tracing: TracingConfig{
			ServiceName: "mcpgateway",
			SampleRate:  1.0,
		},
		Activity: ActivityConfig{
			Enabled:    true,
			Retention:  7 * 24 * time.Hour,
			MaxRecords: 10000,
		},
	}
}

// DefaultLogConfig logs to the console only
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "main.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}
