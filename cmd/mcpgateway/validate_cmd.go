package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpgateway/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
)

var (
	validateOutput string
	validateJSON   bool
)

// ValidationReport is one manifest file's validation outcome
type ValidationReport struct {
	Path      string   `json:"path" yaml:"path"`
	Valid     bool     `json:"valid" yaml:"valid"`
	Connector string   `json:"connector,omitempty" yaml:"connector,omitempty"`
	Version   string   `json:"version,omitempty" yaml:"version,omitempty"`
	Tools     []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Validate connector manifest files",
		Long:  "Load and validate connector manifests (YAML, JSON or TOML) and list the tools each one declares.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
	cmd.Flags().StringVarP(&validateOutput, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&validateJSON, "json", false, "Shorthand for -o json")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	formatter, err := output.NewFormatter(output.ResolveFormat(validateOutput, validateJSON))
	if err != nil {
		return err
	}

	reports := make([]ValidationReport, 0, len(args))
	failed := 0
	for _, path := range args {
		report := ValidationReport{Path: path}
		m, err := manifest.Load(path)
		if err != nil {
			report.Error = err.Error()
			failed++
		} else {
			report.Valid = true
			report.Connector = m.Name
			report.Version = m.Version
			report.Tools = m.ToolNames()
		}
		reports = append(reports, report)
	}

	var out string
	if _, ok := formatter.(*output.TableFormatter); ok {
		rows := make([][]string, 0, len(reports))
		for _, r := range reports {
			status := "ok"
			detail := strings.Join(r.Tools, ", ")
			if !r.Valid {
				status = "invalid"
				detail = r.Error
			}
			rows = append(rows, []string{r.Path, status, r.Connector, r.Version, detail})
		}
		out, err = formatter.FormatTable([]string{"path", "status", "connector", "version", "details"}, rows)
	} else {
		out, err = formatter.Format(reports)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)

	if failed > 0 {
		return &exitError{code: ExitCodeValidationFailed, err: fmt.Errorf("%d of %d manifests failed validation", failed, len(args))}
	}
	return nil
}
