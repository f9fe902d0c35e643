package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
	"tools.zach/dev/agentwatch/internal/engine"
	"tools.zach/dev/agentwatch/internal/status"
	"tools.zach/dev/agentwatch/internal/transcript"
)

// ///////////////////////////////////////////////
// Output Format
// ///////////////////////////////////////////////

// Output formats accepted by --format.
const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

// resolveFormat turns "auto" into a table for terminals and JSON otherwise.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch format {
	case formatTable, formatJSON:
		return format, nil
	case formatAuto, "":
		if isTerminal(w) {
			return formatTable, nil
		}
		return formatJSON, nil
	}
	return "", fmt.Errorf("unknown format %q (want auto, table, or json)", format)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// writeResponse renders resp in the given resolved format.
func writeResponse(w io.Writer, resp *engine.Response, format string) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		return nil
	}
	_, err := io.WriteString(w, renderTable(resp))
	return err
}

// ///////////////////////////////////////////////
// Table
// ///////////////////////////////////////////////

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	statusColors = map[status.Status]lipgloss.Color{
		status.Waiting:    lipgloss.Color("11"),
		status.Thinking:   lipgloss.Color("12"),
		status.Processing: lipgloss.Color("10"),
		status.Compacting: lipgloss.Color("13"),
		status.Idle:       lipgloss.Color("8"),
	}
)

// messageRunes truncates the message column.
const messageRunes = 48

// tableHeaders are the columns of the session table.
var tableHeaders = []string{"STATUS", "AGENT", "PROJECT", "BRANCH", "PID", "CPU", "CTX", "SUB", "LAST MESSAGE"}

// renderTable draws the session table followed by a one-line summary.
func renderTable(resp *engine.Response) string {
	var b strings.Builder
	if len(resp.Sessions) == 0 {
		b.WriteString(dimStyle.Render("No active sessions."))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([][]string, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		rows = append(rows, sessionRow(s))
	}
	sessions := resp.Sessions
	t := ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(tableHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerStyle
			}
			if col == 0 && row >= 0 && row < len(sessions) {
				return cellStyle.Foreground(statusColors[sessions[row].Status])
			}
			return cellStyle
		})

	b.WriteString(t.Render())
	b.WriteString("\n")
	b.WriteString(summaryLine(resp))
	b.WriteString("\n")
	return b.String()
}

// sessionRow formats one session for the table.
func sessionRow(s engine.Session) []string {
	project := s.ProjectName
	if s.IsWorktree {
		project += " (wt)"
	}
	branch := s.GitBranch
	if s.CommitsAhead != nil && s.CommitsBehind != nil && (*s.CommitsAhead > 0 || *s.CommitsBehind > 0) {
		branch += fmt.Sprintf(" +%d/-%d", *s.CommitsAhead, *s.CommitsBehind)
	}
	if s.PRInfo != nil {
		branch += fmt.Sprintf(" #%d", s.PRInfo.Number)
	}
	ctx := "-"
	if s.ContextWindowPercent != nil {
		ctx = fmt.Sprintf("%.0f%%", *s.ContextWindowPercent)
	}
	sub := ""
	if s.ActiveSubagentCount > 0 {
		sub = strconv.Itoa(s.ActiveSubagentCount)
	}
	msg := strings.Join(strings.Fields(s.LastMessage), " ")
	return []string{
		s.Status.String(),
		string(s.AgentType),
		project,
		branch,
		strconv.Itoa(s.PID),
		fmt.Sprintf("%.1f%%", s.CPUUsage),
		ctx,
		sub,
		transcript.Truncate(msg, messageRunes),
	}
}

// summaryLine reports the session and waiting counts.
func summaryLine(resp *engine.Response) string {
	noun := "sessions"
	if resp.TotalCount == 1 {
		noun = "session"
	}
	line := fmt.Sprintf("%d %s", resp.TotalCount, noun)
	if resp.WaitingCount > 0 {
		line += ", " + lipgloss.NewStyle().Foreground(statusColors[status.Waiting]).Render(
			fmt.Sprintf("%d waiting for input", resp.WaitingCount))
	}
	return line
}
