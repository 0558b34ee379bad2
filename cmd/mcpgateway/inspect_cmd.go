package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpgateway/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
	"github.com/smart-mcp-proxy/mcpgateway/internal/runtime"
)

var (
	inspectOutput string
	inspectJSON   bool
	inspectTools  bool
)

// ConnectorSummary is one row of `inspect`
type ConnectorSummary struct {
	Name    string   `json:"name" yaml:"name"`
	Version string   `json:"version" yaml:"version"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Source  string   `json:"source,omitempty" yaml:"source,omitempty"`
	Tools   []string `json:"tools" yaml:"tools"`
}

// ToolSummary is one row of `inspect --tools`
type ToolSummary struct {
	Name        string `json:"name" yaml:"name"`
	Connector   string `json:"connector" yaml:"connector"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Auth        string `json:"auth" yaml:"auth"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Description string `json:"description" yaml:"description"`
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the connectors and tools the configuration would serve",
		Args:  cobra.NoArgs,
		RunE:  runInspect,
	}
	cmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&inspectJSON, "json", false, "Shorthand for -o json")
	cmd.Flags().BoolVar(&inspectTools, "tools", false, "List tools instead of connectors")
	return cmd
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	formatter, err := output.NewFormatter(output.ResolveFormat(inspectOutput, inspectJSON))
	if err != nil {
		return err
	}
	logger, err := commandLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc := runtime.NewService(registry.NewGlobalRegistry(), logger)
	if err := installConfiguredConnectors(svc, cfg, logger); err != nil {
		return err
	}
	connectors, err := svc.ListConnectors(cfg.ProjectID)
	if err != nil {
		return err
	}

	var out string
	if inspectTools {
		out, err = renderTools(formatter, connectors)
	} else {
		out, err = renderConnectors(formatter, connectors)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func renderConnectors(formatter output.Formatter, connectors []*registry.ConnectorEntry) (string, error) {
	summaries := make([]ConnectorSummary, 0, len(connectors))
	for _, c := range connectors {
		summaries = append(summaries, ConnectorSummary{
			Name:    c.Name,
			Version: c.Version,
			Enabled: c.Enabled,
			Source:  c.SourcePath(),
			Tools:   c.Manifest.ToolNames(),
		})
	}
	if _, ok := formatter.(*output.TableFormatter); !ok {
		return formatter.Format(summaries)
	}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{s.Name, s.Version, strconv.FormatBool(s.Enabled), strconv.Itoa(len(s.Tools)), s.Source})
	}
	return formatter.FormatTable([]string{"name", "version", "enabled", "tools", "source"}, rows)
}

func renderTools(formatter output.Formatter, connectors []*registry.ConnectorEntry) (string, error) {
	var tools []ToolSummary
	for _, c := range connectors {
		for _, t := range c.Tools() {
			tools = append(tools, ToolSummary{
				Name:        t.Name,
				Connector:   c.Name,
				Endpoint:    t.Definition.Endpoint,
				Auth:        string(t.Definition.AuthType()),
				Enabled:     c.Enabled,
				Description: t.Definition.Description,
			})
		}
	}
	if _, ok := formatter.(*output.TableFormatter); !ok {
		if tools == nil {
			tools = []ToolSummary{}
		}
		return formatter.Format(tools)
	}
	rows := make([][]string, 0, len(tools))
	for _, t := range tools {
		rows = append(rows, []string{t.Name, t.Connector, t.Endpoint, t.Auth, strconv.FormatBool(t.Enabled), firstLine(t.Description)})
	}
	return formatter.FormatTable([]string{"tool", "connector", "endpoint", "auth", "enabled", "description"}, rows)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
