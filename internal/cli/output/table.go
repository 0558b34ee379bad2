package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// TableFormatter formats output as an aligned, human-readable table
type TableFormatter struct {
	NoColor bool
}

// Format falls back to indented YAML for values that are not tables
func (f *TableFormatter) Format(data any) (string, error) {
	return (&YAMLFormatter{}).Format(data)
}

func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s [%s]\n", f.paint(colorRed, "Error: "+err.Message), err.Code)
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  %s\n", err.Guidance)
	}
	if err.RecoveryCommand != "" {
		fmt.Fprintf(&buf, "  Try: %s\n", err.RecoveryCommand)
	}
	return buf.String(), nil
}

func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(w, strings.Join(upper, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *TableFormatter) paint(color, s string) string {
	if f.NoColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		return s
	}
	return color + s + colorReset
}
