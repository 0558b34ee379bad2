package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpgateway/internal/logs"
)

func newLogsCommand() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the gateway log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tail, err := logs.ReadLogTail(cfg.Logging, lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tail) == 0 {
				fmt.Fprintln(out, "No log entries (is logging.enable_file or --log-to-file set?)")
				return nil
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show (max 500)")
	return cmd
}
