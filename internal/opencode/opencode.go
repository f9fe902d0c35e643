// Package opencode discovers OpenCode sessions. OpenCode keeps one SQLite
// store per project under <root>/<slug>/storage/db.sqlite; a live OpenCode
// process is matched to a store when its working directory contains the
// project slug.
package opencode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tools.zach/dev/agentwatch/internal/paths"
	"tools.zach/dev/agentwatch/internal/process"
	"tools.zach/dev/agentwatch/internal/status"
	"tools.zach/dev/agentwatch/internal/transcript"

	_ "modernc.org/sqlite" // register sqlite driver
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Session is the newest session of one OpenCode project.
type Session struct {
	ID          string
	Title       string
	Slug        string
	ProjectName string
	ProjectPath string
	Status      status.Status
	Preview     string
	PreviewRole string
	UpdatedAt   time.Time
	PID         int
	CPUPercent  float64
}

// Reader scans the OpenCode project root.
type Reader struct {
	// Root is the directory holding one subdirectory per project slug.
	Root string
	// CPUActive is the CPU percentage above which a session is processing.
	CPUActive float64
	// PreviewRunes truncates the message preview.
	PreviewRunes int
}

// NewReader returns a Reader for root.
func NewReader(root string, cpuActive float64, previewRunes int) *Reader {
	return &Reader{Root: root, CPUActive: cpuActive, PreviewRunes: previewRunes}
}

// ///////////////////////////////////////////////
// Discovery
// ///////////////////////////////////////////////

// Sessions returns one session per project store that a live process in
// procs is working in. Unreadable stores are skipped.
func (r *Reader) Sessions(ctx context.Context, procs []process.AgentProcess) []Session {
	if len(procs) == 0 {
		return nil
	}
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		slog.Debug("opencode root unavailable", "path", r.Root, "error", err)
		return nil
	}

	var out []Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slug := e.Name()
		dbPath := filepath.Join(r.Root, slug, filepath.FromSlash(paths.OpenCodeDB))
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}
		proc, ok := MatchProcess(slug, procs)
		if !ok {
			continue
		}
		s, err := r.readSession(ctx, dbPath, proc.CPUPercent)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				slog.Warn("cannot read opencode store", "path", dbPath, "error", err)
			}
			continue
		}
		s.Slug = slug
		s.ProjectName = ProjectName(slug)
		s.ProjectPath = proc.Cwd
		s.PID = proc.PID
		s.CPUPercent = proc.CPUPercent
		out = append(out, *s)
	}
	return out
}

// MatchProcess returns the first process whose working directory contains
// slug. procs are expected in PID order so the choice is stable.
func MatchProcess(slug string, procs []process.AgentProcess) (process.AgentProcess, bool) {
	if slug == "" {
		return process.AgentProcess{}, false
	}
	for _, p := range procs {
		if p.Cwd != "" && strings.Contains(p.Cwd, slug) {
			return p, true
		}
	}
	return process.AgentProcess{}, false
}

// ProjectName is the last non-empty dash-separated segment of slug.
func ProjectName(slug string) string {
	parts := strings.Split(slug, "-")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return slug
}

// ///////////////////////////////////////////////
// Store Queries
// ///////////////////////////////////////////////

// storeDSN builds a file: URI for dbPath. The path is percent-encoded so a
// directory name holding '?', '#' or '%' is not read as URI syntax.
func storeDSN(dbPath, query string) string {
	p := filepath.ToSlash(dbPath)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: query}
	return u.String()
}

// readSession loads the most recently updated session and infers its status
// from the last message. A session without messages is idle.
func (r *Reader) readSession(ctx context.Context, dbPath string, cpu float64) (*Session, error) {
	db, err := sql.Open("sqlite", storeDSN(dbPath, "mode=ro&_pragma=busy_timeout(1000)"))
	if err != nil {
		return nil, fmt.Errorf("opening opencode db: %w", err)
	}
	defer func() { _ = db.Close() }()

	s := &Session{}
	var title sql.NullString
	var updated int64
	err = db.QueryRowContext(ctx,
		"SELECT id, title, updated_at FROM sessions ORDER BY updated_at DESC LIMIT 1",
	).Scan(&s.ID, &title, &updated)
	if err != nil {
		return nil, err
	}
	s.Title = title.String
	s.UpdatedAt = time.Unix(updated, 0).UTC()

	var role string
	var finished sql.NullInt64
	var parts sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT role, finished_at, parts FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT 1",
		s.ID,
	).Scan(&role, &finished, &parts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.Status = status.Idle
		return s, nil
	case err != nil:
		slog.Debug("cannot read opencode messages", "path", dbPath, "error", err)
		s.Status = status.Idle
		return s, nil
	}

	s.Status = Infer(role, finished.Valid, cpu, r.CPUActive)
	if text := PartsText(parts.String); text != "" {
		s.Preview = transcript.Truncate(text, r.PreviewRunes)
		s.PreviewRole = role
	}
	return s, nil
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Infer maps the newest message to a status. CPU activity above threshold
// wins; a finished assistant reply waits for the user; a user message is
// being processed; anything else is idle.
func Infer(role string, finished bool, cpu, threshold float64) status.Status {
	switch {
	case cpu > threshold:
		return status.Processing
	case role == "assistant" && finished:
		return status.Waiting
	case role == "user":
		return status.Processing
	default:
		return status.Idle
	}
}

// part is one element of a message's parts column.
type part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PartsText returns the first text part of a parts column. Columns that are
// not a JSON array of parts are returned verbatim.
func PartsText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var parts []part
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return raw
	}
	for _, p := range parts {
		if p.Text != "" && (p.Type == "" || p.Type == "text") {
			return p.Text
		}
	}
	return ""
}
