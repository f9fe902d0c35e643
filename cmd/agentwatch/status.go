package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"tools.zach/dev/agentwatch/internal/server"
)

// newStatusCmd fetches the snapshot from a running serve process.
func newStatusCmd(a *app) *cobra.Command {
	var format string
	var health bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sessions from a running serve process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			c := server.NewClient(server.Address(a.cfg.SocketPath(a.dirs)))

			if health {
				if err := c.Health(cmd.Context()); err != nil {
					return notRunningHint(err)
				}
				fmt.Fprintln(out, "ok")
				return nil
			}

			f, err := resolveFormat(format, out)
			if err != nil {
				return err
			}
			resp, err := c.Sessions(cmd.Context())
			if err != nil {
				return notRunningHint(err)
			}
			return writeResponse(out, resp, f)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format: auto, table, or json")
	cmd.Flags().BoolVar(&health, "health", false, "Only check that serve is answering")
	return cmd
}

// notRunningHint replaces connection failures with advice to start serve.
func notRunningHint(err error) error {
	if errors.Is(err, server.ErrNotRunning) {
		return fmt.Errorf("%w (start it with `agentwatch serve`)", server.ErrNotRunning)
	}
	return err
}
