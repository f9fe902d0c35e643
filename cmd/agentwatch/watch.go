package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"tools.zach/dev/agentwatch/internal/engine"
)

// clearScreen homes the cursor and clears the terminal.
const clearScreen = "\x1b[H\x1b[2J"

// newWatchCmd rescans continuously and reprints whenever the result changes.
func newWatchCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously display sessions as they change",
		Long:  "Rescans on transcript writes and on the configured poll interval. Terminals get a redrawn table; pipes get one JSON snapshot per line whenever something changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			f, err := resolveFormat(format, out)
			if err != nil {
				return err
			}
			eng := a.engine()
			p := &printer{w: out, format: f}
			return a.rescanLoop(cmd.Context(), func(ctx context.Context) {
				resp, err := eng.Scan(ctx)
				if err != nil {
					a.log.Warn("scan failed", "error", err)
					return
				}
				if err := p.print(resp); err != nil {
					a.log.Warn("writing output failed", "error", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format: auto, table, or json")
	return cmd
}

// printer writes a response only when it differs from the last one written.
type printer struct {
	w      io.Writer
	format string
	last   []byte
}

// print writes resp if its content changed since the last call.
func (p *printer) print(resp *engine.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if bytes.Equal(data, p.last) {
		return nil
	}
	p.last = data

	if p.format == formatJSON {
		_, err := fmt.Fprintf(p.w, "%s\n", data)
		return err
	}
	_, err = io.WriteString(p.w, clearScreen+renderTable(resp))
	return err
}
