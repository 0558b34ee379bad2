package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/config"
	"github.com/smart-mcp-proxy/mcpgateway/internal/logs"
)

var (
	configFile    string
	dataDir       string
	listen        string
	logLevel      string
	logToFile     bool
	logDir        string
	projectID     string
	tenantID      string
	connectorsDir string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mcpgateway",
		Short:         "MCP gateway serving HTTP API connectors as tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file path (JSON, YAML or TOML)")
	flags.StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcpgateway)")
	flags.StringVarP(&listen, "listen", "l", "", "Management API listen address (empty disables)")
	flags.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in standard OS location")
	flags.StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	flags.StringVarP(&projectID, "project", "p", "", "Project served over stdio")
	flags.StringVar(&tenantID, "tenant", "", "Tenant owning the project")
	flags.StringVar(&connectorsDir, "connectors-dir", "", "Directory of connector manifests installed at startup")

	addServeFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newValidateCommand(),
		newInspectCommand(),
		newSecretsCommand(),
		newLogsCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpgateway %s\n", version)
		},
	}
}

// loadConfig reads --config and applies flags the user set explicitly
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, &exitError{code: ExitCodeConfigError, err: err}
	}
	applyFlagOverrides(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: ExitCodeConfigError, err: fmt.Errorf("invalid configuration: %w", err)}
	}
	return cfg, nil
}

func applyFlagOverrides(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("project") {
		cfg.ProjectID = projectID
	}
	if flags.Changed("tenant") {
		cfg.TenantID = tenantID
	}
	if flags.Changed("connectors-dir") {
		cfg.ConnectorsDir = connectorsDir
	}

	if cfg.Logging == nil {
		cfg.Logging = config.DefaultLogConfig()
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-to-file") {
		cfg.Logging.EnableFile = logToFile
	}
	if flags.Changed("log-dir") {
		cfg.Logging.LogDir = logDir
	}
}

// commandLogger is used by one-shot commands, which log at warn unless
// --log-level says otherwise
func commandLogger() (*zap.Logger, error) {
	logger, _, err := logs.SetupCommandLogger(false, logLevel, logToFile, logDir)
	return logger, err
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitCodeGeneralError
}
