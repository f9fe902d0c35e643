// Package engine runs a full discovery scan: it snapshots the process table,
// pairs agent processes with their transcripts, infers each session's
// status, attaches repository metadata, and returns the sorted result.
//
// An [Engine] owns the state that outlives a single scan (lookup caches and
// the transition tracker) and prunes it to the sessions and projects seen in
// the latest scan.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
	"tools.zach/dev/agentwatch/internal/cache"
	"tools.zach/dev/agentwatch/internal/config"
	"tools.zach/dev/agentwatch/internal/correlate"
	"tools.zach/dev/agentwatch/internal/enrich"
	"tools.zach/dev/agentwatch/internal/logger"
	"tools.zach/dev/agentwatch/internal/opencode"
	"tools.zach/dev/agentwatch/internal/process"
	"tools.zach/dev/agentwatch/internal/projectconfig"
	"tools.zach/dev/agentwatch/internal/projectpath"
	"tools.zach/dev/agentwatch/internal/status"
	"tools.zach/dev/agentwatch/internal/tracker"
	"tools.zach/dev/agentwatch/internal/transcript"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Session is one live agent conversation.
type Session struct {
	ID                   string         `json:"id"`
	AgentType            process.Kind   `json:"agentType"`
	ProjectName          string         `json:"projectName"`
	ProjectPath          string         `json:"projectPath"`
	GitBranch            string         `json:"gitBranch,omitempty"`
	GitHubURL            string         `json:"githubUrl,omitempty"`
	Status               status.Status  `json:"status"`
	LastMessage          string         `json:"lastMessage,omitempty"`
	LastMessageRole      string         `json:"lastMessageRole,omitempty"`
	LastActivityAt       string         `json:"lastActivityAt"`
	PID                  int            `json:"pid"`
	CPUUsage             float64        `json:"cpuUsage"`
	ActiveSubagentCount  int            `json:"activeSubagentCount"`
	IsWorktree           bool           `json:"isWorktree"`
	RepoName             string         `json:"repoName,omitempty"`
	PRInfo               *enrich.PRInfo `json:"prInfo,omitempty"`
	CommitsAhead         *int           `json:"commitsAhead,omitempty"`
	CommitsBehind        *int           `json:"commitsBehind,omitempty"`
	ContextWindowPercent *float64       `json:"contextWindowPercent,omitempty"`

	// activity orders sessions with equal priority.
	activity time.Time
}

// Response is the result of one scan.
type Response struct {
	Sessions     []Session `json:"sessions"`
	TotalCount   int       `json:"totalCount"`
	WaitingCount int       `json:"waitingCount"`
}

// unknown stands in for a missing timestamp or project name.
const unknown = "Unknown"

// activityLayout formats times derived from sources other than a transcript.
const activityLayout = "2006-01-02T15:04:05.000Z"

// Options configures an Engine.
type Options struct {
	// ClaudeProjectsDir is the transcripts root.
	ClaudeProjectsDir string
	// OpenCodeDir is the OpenCode per-project root.
	OpenCodeDir string
	// OpenCode enables OpenCode discovery.
	OpenCode bool
	// IsIgnored reports whether a project path is excluded. Nil ignores nothing.
	IsIgnored func(projectPath string) bool
	// Anchors are passed to the project path decoder.
	Anchors []string
	// Tail controls the transcript tail parser.
	Tail transcript.Options
	// Thresholds tune status inference.
	Thresholds status.Thresholds
	// SubagentWindow is how recently a sub-agent transcript must be written to count.
	SubagentWindow time.Duration
	// SecondaryWindow is how recently an unclaimed transcript must be written to override status.
	SecondaryWindow time.Duration
	// ContextWindowTokens is the budget for the remaining-context percentage.
	ContextWindowTokens int64
	// Enrich controls git and GitHub lookups.
	Enrich enrich.Options
	// CommandTimeout bounds each git or gh invocation.
	CommandTimeout time.Duration
	// LinksTTL is how long project link files are cached.
	LinksTTL time.Duration
	// Filter classifies processes.
	Filter process.Filter
	// SelfPID is excluded from discovery.
	SelfPID int
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return FromConfig(config.DefaultConfig())
}

// FromConfig derives engine options from a loaded configuration.
func FromConfig(c *config.Config) Options {
	return Options{
		ClaudeProjectsDir:   c.ClaudeProjectsDir(),
		OpenCodeDir:         c.OpenCodeDir(),
		OpenCode:            c.Discovery.OpenCode,
		IsIgnored:           c.IsIgnored,
		Anchors:             c.Discovery.DecodeAnchors,
		Tail:                c.TailOptions(),
		Thresholds:          c.Thresholds(),
		SubagentWindow:      config.Seconds(c.Status.SubagentWindowSeconds),
		SecondaryWindow:     config.Seconds(c.Status.SecondaryFileWindowSeconds),
		ContextWindowTokens: c.Status.ContextWindowTokens,
		Enrich: enrich.Options{
			Git:            c.Enrich.Enabled,
			GitHub:         c.Enrich.Enabled && c.Enrich.GitHub,
			PRTTL:          config.Seconds(c.Enrich.PRTTLSeconds),
			AheadBehindTTL: config.Seconds(c.Enrich.AheadBehindTTLSeconds),
		},
		CommandTimeout: config.Millis(c.Enrich.CommandTimeoutMS),
		LinksTTL:       config.Seconds(c.Links.TTLSeconds),
		Filter:         process.DefaultFilter(),
		SelfPID:        os.Getpid(),
	}
}

// Engine performs scans. It is safe for concurrent use; concurrent calls to
// [Engine.Scan] share one in-flight scan.
type Engine struct {
	opts Options
	src  process.Source
	log  *slog.Logger
	now  func() time.Time

	codec    *projectpath.Codec
	decoded  *cache.Cache[string, string]
	tracker  *tracker.Tracker
	enricher *enrich.Enricher
	links    *projectconfig.Store
	opencode *opencode.Reader

	group singleflight.Group
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for scan and transition logs.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEnricher replaces the command-backed enricher.
func WithEnricher(en *enrich.Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// WithCodec replaces the filesystem-probing path decoder.
func WithCodec(c *projectpath.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// New creates an Engine reading processes from src.
func New(opts Options, src process.Source, options ...Option) *Engine {
	e := &Engine{
		opts:    opts,
		src:     src,
		log:     slog.Default(),
		now:     time.Now,
		decoded: cache.New[string, string](0),
		links:   projectconfig.New(opts.LinksTTL),
	}
	e.opencode = opencode.NewReader(opts.OpenCodeDir, opts.Thresholds.CPUActive, opts.Tail.PreviewRunes)
	for _, o := range options {
		o(e)
	}
	if e.codec == nil {
		e.codec = projectpath.New(opts.Anchors)
	}
	if e.enricher == nil {
		e.enricher = enrich.New(enrich.ExecRunner{Timeout: opts.CommandTimeout}, opts.Enrich)
	}
	e.tracker = tracker.New(e.log)
	return e
}

// Links returns the project link store whose cache the engine prunes.
func (e *Engine) Links() *projectconfig.Store {
	return e.links
}

// ///////////////////////////////////////////////
// Scan
// ///////////////////////////////////////////////

// Scan discovers all live sessions. Partial failures are logged and leave
// sessions out; only a failed process snapshot returns an error. The
// returned Response is shared with concurrent callers and must not be
// modified.
func (e *Engine) Scan(ctx context.Context) (*Response, error) {
	v, err, _ := e.group.Do("scan", func() (any, error) {
		return e.scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// scanState collects the active sets used for pruning.
type scanState struct {
	now      time.Time
	ids      map[string]struct{}
	projects map[string]struct{}
	dirs     map[string]struct{}
}

func (e *Engine) scan(ctx context.Context) (*Response, error) {
	start := time.Now()
	table, err := e.src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting processes: %w", err)
	}

	st := &scanState{
		now:      e.now(),
		ids:      make(map[string]struct{}),
		projects: make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}
	sessions := make([]Session, 0)

	agents := e.opts.Filter.Agents(table, e.opts.SelfPID)
	logger.Trace(e.log, "agent processes", "count", len(agents))
	sessions = append(sessions, e.claudeSessions(ctx, st, agents)...)

	if e.opts.OpenCode {
		procs := e.opts.Filter.OpenCode(table, e.opts.SelfPID)
		sessions = append(sessions, e.openCodeSessions(ctx, st, procs)...)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return status.Less(sessions[i].key(), sessions[j].key())
	})

	resp := &Response{Sessions: sessions, TotalCount: len(sessions)}
	for _, s := range sessions {
		if s.Status == status.Waiting {
			resp.WaitingCount++
		}
	}

	pruned := e.tracker.Retain(st.ids)
	pruned += e.enricher.Cleanup(st.projects)
	pruned += e.links.Cleanup(st.projects)
	pruned += e.decoded.RetainKeys(st.dirs)

	e.log.Debug("scan complete",
		"sessions", resp.TotalCount,
		"waiting", resp.WaitingCount,
		"pruned", pruned,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return resp, nil
}

func (s *Session) key() status.Key {
	return status.Key{Status: s.Status, Activity: s.activity, ID: s.ID}
}

// ///////////////////////////////////////////////
// Claude Sessions
// ///////////////////////////////////////////////

// claudeSessions walks the transcripts root and builds a session for every
// process that can be paired with a transcript.
func (e *Engine) claudeSessions(ctx context.Context, st *scanState, agents []process.AgentProcess) []Session {
	byCwd := make(map[string][]process.AgentProcess)
	var cwds []string
	for _, p := range agents {
		if p.Cwd == "" {
			e.log.Debug("agent process has no cwd, skipping", "pid", p.PID)
			continue
		}
		if _, ok := byCwd[p.Cwd]; !ok {
			cwds = append(cwds, p.Cwd)
		}
		byCwd[p.Cwd] = append(byCwd[p.Cwd], p)
	}
	if len(byCwd) == 0 {
		return nil
	}

	root := e.opts.ClaudeProjectsDir
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.log.Debug("transcripts root does not exist", "path", root)
		} else {
			e.log.Warn("cannot read transcripts root", "path", root, "error", err)
		}
		return nil
	}

	var out []Session
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		st.dirs[name] = struct{}{}

		projectPath, ok := e.resolveProject(name, cwds, byCwd)
		if !ok {
			logger.Trace(e.log, "project has no active processes", "dir", name)
			continue
		}
		if e.opts.IsIgnored != nil && e.opts.IsIgnored(projectPath) {
			e.log.Debug("project ignored", "path", projectPath)
			continue
		}
		st.projects[projectPath] = struct{}{}
		out = append(out, e.projectSessions(ctx, st, filepath.Join(root, name), projectPath, byCwd[projectPath])...)
	}
	return out
}

// resolveProject maps a transcripts directory name to the cwd of live
// processes: exact reverse lookup against the cwds first, then a decode of
// the name (cached) checked against them.
func (e *Engine) resolveProject(name string, cwds []string, byCwd map[string][]process.AgentProcess) (string, bool) {
	if cwd, ok := projectpath.Resolve(name, cwds); ok {
		return cwd, true
	}
	path, ok := e.decoded.Get(name)
	if !ok {
		path, _ = e.codec.Decode(name)
		e.decoded.Set(name, path)
	}
	if _, live := byCwd[path]; live {
		return path, true
	}
	return "", false
}

// projectSessions pairs the processes working in projectPath with the
// transcripts in dir.
func (e *Engine) projectSessions(ctx context.Context, st *scanState, dir, projectPath string, procs []process.AgentProcess) []Session {
	files, err := transcript.ListTranscripts(dir)
	if err != nil {
		e.log.Debug("cannot list transcripts", "dir", dir, "error", err)
		return nil
	}
	if len(files) == 0 {
		e.log.Debug("project has no transcripts", "dir", dir)
		return nil
	}

	cfiles := make([]correlate.File, len(files))
	for i, f := range files {
		cfiles[i] = correlate.File{Path: f.Path, ModTime: f.ModTime}
		if len(procs) > 1 {
			cfiles[i].Created = transcript.CreatedAt(f)
		}
	}
	cprocs := make([]correlate.Process, len(procs))
	for i, p := range procs {
		cprocs[i] = correlate.Process{PID: p.PID, StartTime: time.Unix(p.StartTime, 0)}
	}

	assigned := correlate.Assign(cprocs, cfiles)
	claimed := make(map[int]bool, len(assigned))
	for _, idx := range assigned {
		claimed[idx] = true
	}

	var out []Session
	for _, p := range procs {
		idx, ok := assigned[p.PID]
		if !ok {
			e.log.Debug("no transcript for process", "pid", p.PID, "project", projectPath)
			continue
		}
		s, ok := e.buildSession(ctx, dir, projectPath, p, files[idx], st.now)
		if !ok {
			continue
		}
		if _, dup := st.ids[s.ID]; dup {
			e.log.Debug("duplicate session id, skipping", "session", s.ID, "pid", p.PID)
			continue
		}

		for _, j := range correlate.Secondary(cfiles, claimed, st.now, e.opts.SecondaryWindow) {
			other, ok := e.fileStatus(files[j], p, st.now)
			if ok && status.Priority(other) < status.Priority(s.Status) {
				e.log.Debug("more active status in unclaimed transcript",
					"session", s.ID, "path", files[j].Path, "from", s.Status, "to", other)
				s.Status = other
			}
		}

		st.ids[s.ID] = struct{}{}
		e.tracker.Observe(s.ID, s.ProjectName, s.Status)
		out = append(out, s)
	}
	return out
}

// buildSession parses one transcript into a session. ok is false when the
// transcript is unreadable or carries no session ID.
func (e *Engine) buildSession(ctx context.Context, dir, projectPath string, p process.AgentProcess, f transcript.File, now time.Time) (Session, bool) {
	tail, err := transcript.ParseTail(f.Path, e.opts.Tail)
	if err != nil {
		e.log.Debug("skipping transcript", "path", f.Path, "error", err)
		return Session{}, false
	}

	subagents := transcript.CountActiveSubagents(dir, tail.SessionID, now, e.opts.SubagentWindow)
	feat := features(tail, now.Sub(f.ModTime), p.CPUPercent, subagents)
	st := status.Infer(feat, e.opts.Thresholds)
	logger.Trace(e.log, "status inferred",
		"session", tail.SessionID,
		"role", feat.Role,
		"tool_use", feat.HasToolUse,
		"file_age", feat.FileAge.Round(time.Millisecond),
		"cpu", p.CPUPercent,
		"subagents", subagents,
		"status", st,
	)

	s := Session{
		ID:                  tail.SessionID,
		AgentType:           process.KindClaude,
		ProjectName:         projectName(projectPath),
		ProjectPath:         projectPath,
		GitBranch:           tail.GitBranch,
		Status:              st,
		LastMessage:         tail.Preview,
		LastMessageRole:     tail.PreviewRole,
		LastActivityAt:      unknown,
		PID:                 p.PID,
		CPUUsage:            p.CPUPercent,
		ActiveSubagentCount: subagents,
		activity:            f.ModTime,
	}
	if tail.Timestamp != "" {
		s.LastActivityAt = tail.Timestamp
		if ts, err := time.Parse(time.RFC3339Nano, tail.Timestamp); err == nil {
			s.activity = ts
		}
	}
	if pct, ok := tail.ContextRemainingPercent(e.opts.ContextWindowTokens); ok {
		s.ContextWindowPercent = &pct
	}
	e.attachRepo(ctx, &s)
	return s, true
}

// fileStatus infers the status an unclaimed transcript would give process p.
func (e *Engine) fileStatus(f transcript.File, p process.AgentProcess, now time.Time) (status.Status, bool) {
	tail, err := transcript.ParseTail(f.Path, e.opts.Tail)
	if err != nil {
		return status.Idle, false
	}
	return status.Infer(features(tail, now.Sub(f.ModTime), p.CPUPercent, 0), e.opts.Thresholds), true
}

// features converts parsed transcript features and liveness signals into
// inference inputs.
func features(t *transcript.Tail, age time.Duration, cpu float64, subagents int) status.Features {
	return status.Features{
		HasMessage:      t.HasMessage,
		Role:            t.Role,
		HasToolUse:      t.HasToolUse,
		HasToolResult:   t.HasToolResult,
		IsLocalCommand:  t.IsLocalCommand,
		IsInterrupted:   t.IsInterrupted,
		Compacting:      t.Compacting,
		FileAge:         age,
		CPUPercent:      cpu,
		ActiveSubagents: subagents,
	}
}

// attachRepo copies repository metadata onto s.
func (e *Engine) attachRepo(ctx context.Context, s *Session) {
	info := e.enricher.Lookup(ctx, s.ProjectPath, s.GitBranch)
	s.IsWorktree = info.IsWorktree
	s.GitHubURL = info.GitHubURL
	s.RepoName = info.RepoName
	s.PRInfo = info.PR
	if ab := info.AheadBehind; ab != nil {
		ahead, behind := ab.Ahead, ab.Behind
		s.CommitsAhead = &ahead
		s.CommitsBehind = &behind
	}
}

// projectName is the last element of path.
func projectName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return unknown
	}
	return name
}

// ///////////////////////////////////////////////
// OpenCode Sessions
// ///////////////////////////////////////////////

// openCodeSessions converts the OpenCode reader's results into sessions.
func (e *Engine) openCodeSessions(ctx context.Context, st *scanState, procs []process.AgentProcess) []Session {
	var out []Session
	for _, oc := range e.opencode.Sessions(ctx, procs) {
		if _, dup := st.ids[oc.ID]; dup {
			continue
		}
		if e.opts.IsIgnored != nil && oc.ProjectPath != "" && e.opts.IsIgnored(oc.ProjectPath) {
			continue
		}
		s := Session{
			ID:              oc.ID,
			AgentType:       process.KindOpenCode,
			ProjectName:     oc.ProjectName,
			ProjectPath:     oc.ProjectPath,
			Status:          oc.Status,
			LastMessage:     oc.Preview,
			LastMessageRole: oc.PreviewRole,
			LastActivityAt:  oc.UpdatedAt.Format(activityLayout),
			PID:             oc.PID,
			CPUUsage:        oc.CPUPercent,
			activity:        oc.UpdatedAt,
		}
		if oc.ProjectPath != "" {
			st.projects[oc.ProjectPath] = struct{}{}
			e.attachRepo(ctx, &s)
		}
		st.ids[s.ID] = struct{}{}
		e.tracker.Observe(s.ID, s.ProjectName, s.Status)
		out = append(out, s)
	}
	return out
}
