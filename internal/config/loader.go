package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MCPGW_EXECUTION_TIMEOUT=10s
const EnvPrefix = "MCPGW"

// Load reads configuration from path (JSON, YAML or TOML by extension),
// applies MCPGW_* environment overrides and validates the result. An empty
// path or an empty file yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// --config=/dev/null means defaults only
		if info.Size() > 0 {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolvePaths(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViper registers every key with its default so that AutomaticEnv can
// override keys absent from the file
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("listen", def.Listen)
	v.SetDefault("api_key", def.APIKey)
	v.SetDefault("project_id", def.ProjectID)
	v.SetDefault("tenant_id", def.TenantID)
	v.SetDefault("connectors_dir", def.ConnectorsDir)
	v.SetDefault("enable_builtin_tools", def.EnableBuiltinTools)

	v.SetDefault("hot_reload.enabled", def.HotReload.Enabled)
	v.SetDefault("hot_reload.interval", def.HotReload.Interval)
	v.SetDefault("hot_reload.watch", def.HotReload.Watch)
	v.SetDefault("hot_reload.check_on_list", def.HotReload.CheckOnList)

	v.SetDefault("execution.timeout", def.Execution.Timeout)
	v.SetDefault("execution.max_attempts", def.Execution.MaxAttempts)
	v.SetDefault("execution.initial_backoff", def.Execution.InitialBackoff)
	v.SetDefault("execution.max_backoff", def.Execution.MaxBackoff)
	v.SetDefault("execution.multiplier", def.Execution.Multiplier)
	v.SetDefault("execution.jitter", def.Execution.Jitter)
	v.SetDefault("execution.rate_per_minute", def.Execution.RatePerMinute)
	v.SetDefault("execution.burst", def.Execution.Burst)
	v.SetDefault("execution.max_response_bytes", def.Execution.MaxResponseBytes)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.enable_file", def.Logging.EnableFile)
	v.SetDefault("logging.enable_console", def.Logging.EnableConsole)
	v.SetDefault("logging.filename", def.Logging.Filename)
	v.SetDefault("logging.log_dir", def.Logging.LogDir)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.json_format", def.Logging.JSONFormat)

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.service_name", def.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", def.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", def.Tracing.SampleRate)
	v.SetDefault("activity.enabled", def.Activity.Enabled)
	v.SetDefault("activity.retention", def.Activity.Retention)
	v.SetDefault("activity.max_records", def.Activity.MaxRecords)
}

// resolvePaths defaults data_dir to ~/.mcpgateway and logging.log_dir to
// <data_dir>/logs, expands ~ and makes paths relative to the config file
// absolute
func (c *Config) resolvePaths(configPath string) error {
	if c.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		c.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	c.DataDir = expandHome(c.DataDir)
	c.ConnectorsDir = expandHome(c.ConnectorsDir)

	baseDir := ""
	if configPath != "" {
		baseDir = filepath.Dir(configPath)
	}
	if c.ConnectorsDir != "" && baseDir != "" && !filepath.IsAbs(c.ConnectorsDir) {
		c.ConnectorsDir = filepath.Join(baseDir, c.ConnectorsDir)
	}
	if c.Logging != nil {
		if c.Logging.LogDir == "" {
			c.Logging.LogDir = filepath.Join(c.DataDir, DefaultLogSubdir)
		}
		c.Logging.LogDir = expandHome(c.Logging.LogDir)
		if baseDir != "" && !filepath.IsAbs(c.Logging.LogDir) {
			c.Logging.LogDir = filepath.Join(baseDir, c.Logging.LogDir)
		}
	}
	for i := range c.Connectors {
		p := expandHome(c.Connectors[i].Path)
		if p != "" && baseDir != "" && !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		c.Connectors[i].Path = p
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// DefaultLogDir is where one-shot commands log when no configuration names a
// directory: ~/.mcpgateway/logs, or under the temp dir without a home
func DefaultLogDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, DefaultDataDir, DefaultLogSubdir)
	}
	return filepath.Join(os.TempDir(), "mcpgateway", DefaultLogSubdir)
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", c.DataDir, err)
	}
	return nil
}
