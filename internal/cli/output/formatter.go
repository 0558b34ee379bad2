// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvOutputFormat selects the default format when no flag is given
const EnvOutputFormat = "MCPGW_OUTPUT"

// Formatter formats structured data for CLI output
type Formatter interface {
	// Format renders an arbitrary value (struct, slice or map)
	Format(data any) (string, error)
	// FormatError renders a structured error
	FormatError(err StructuredError) (string, error)
	// FormatTable renders rows under headers
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter creates a formatter for table, json or yaml (case-insensitive)
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{NoColor: os.Getenv("NO_COLOR") != ""}, nil
	default:
		return nil, NewStructuredError(ErrCodeInvalidOutputFormat,
			fmt.Sprintf("unknown output format: %s (valid: table, json, yaml)", format))
	}
}

// ResolveFormat picks the output format: --json, then -o, then MCPGW_OUTPUT,
// then table
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return "json"
	}
	if outputFlag != "" {
		return outputFlag
	}
	if env := os.Getenv(EnvOutputFormat); env != "" {
		return env
	}
	return "table"
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data any) (string, error) {
	var (
		out []byte
		err error
	)
	if f.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func (f *JSONFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

// FormatTable emits an array of header-keyed objects
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToMaps(headers, rows))
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *YAMLFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToMaps(headers, rows))
}

func rowsToMaps(headers []string, rows [][]string) []map[string]string {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}
