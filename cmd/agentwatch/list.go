package main

import (
	"github.com/spf13/cobra"
)

// newListCmd runs one scan and prints the result.
func newListCmd(a *app) *cobra.Command {
	var format string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active agent sessions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOut {
				format = formatJSON
			}
			out := cmd.OutOrStdout()
			f, err := resolveFormat(format, out)
			if err != nil {
				return err
			}
			resp, err := a.engine().Scan(cmd.Context())
			if err != nil {
				return err
			}
			return writeResponse(out, resp, f)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format: auto, table, or json")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Shorthand for --format json")
	return cmd
}
