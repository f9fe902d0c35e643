package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"
	"tools.zach/dev/agentwatch/internal/logger"
)

// newLogsCmd prints the end of the log file.
func newLogsCmd(a *app) *cobra.Command {
	var lines int
	var level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := logger.ReadTail(a.dirs.Log(), lines, logger.ParseLevel(level))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintln(cmd.OutOrStdout(), "no log file yet")
					return nil
				}
				return fmt.Errorf("read log: %w", err)
			}
			if text == "" {
				return nil
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text+"\n")
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVarP(&level, "level", "l", "trace", "Minimum level to show (trace, debug, info, warn, error, fail)")
	return cmd
}
