// Tests for the scan engine.
// Builds a fake process table and temp transcript directories, then checks
// [Engine.Scan] end to end: session fields, status and waiting counts,
// correlation of several processes, the unclaimed-transcript override,
// sub-agent counting, ignore globs, ordering, enrichment, and pruning.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tools.zach/dev/agentwatch/internal/enrich"
	"tools.zach/dev/agentwatch/internal/process"
	"tools.zach/dev/agentwatch/internal/projectpath"
	"tools.zach/dev/agentwatch/internal/status"
)

// ///////////////////////////////////////////////
// Fixtures
// ///////////////////////////////////////////////

// fakeSource returns a fixed process table.
type fakeSource struct {
	table process.Table
	err   error
}

func (f *fakeSource) Snapshot(context.Context) (process.Table, error) {
	return f.table, f.err
}

// agentTable returns a healthy terminal chain with one claude process per
// entry of cwds. PIDs start at 100.
func agentTable(cpu float64, start time.Time, cwds ...string) process.Table {
	t := process.Table{
		10: {PID: 10, PPID: 1, Name: "Terminal"},
		20: {PID: 20, PPID: 10, Name: "zsh"},
	}
	for i, cwd := range cwds {
		pid := 100 + i
		t[pid] = process.Record{
			PID:        pid,
			PPID:       20,
			Name:       "claude",
			Cmdline:    []string{"claude"},
			Cwd:        cwd,
			CPUPercent: cpu,
			StartTime:  start.Add(time.Duration(i) * time.Minute).Unix(),
		}
	}
	return t
}

// fixture is a transcripts root plus the clock shared by a test.
type fixture struct {
	t    *testing.T
	root string
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, root: t.TempDir(), now: time.Now().Truncate(time.Second)}
}

// project creates a project directory and its transcript directory.
func (f *fixture) project(name string) (projectPath, transcriptDir string) {
	f.t.Helper()
	projectPath = filepath.Join(f.t.TempDir(), name)
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		f.t.Fatal(err)
	}
	transcriptDir = filepath.Join(f.root, projectpath.Encode(projectPath))
	if err := os.MkdirAll(transcriptDir, 0o755); err != nil {
		f.t.Fatal(err)
	}
	return projectPath, transcriptDir
}

// write creates a transcript with the given lines and age.
func (f *fixture) write(path string, age time.Duration, lines ...string) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		f.t.Fatal(err)
	}
	mod := f.now.Add(-age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		f.t.Fatal(err)
	}
}

// engine builds an Engine over the fixture with enrichment and OpenCode off.
func (f *fixture) engine(table process.Table, opts ...Option) *Engine {
	o := DefaultOptions()
	o.ClaudeProjectsDir = f.root
	o.OpenCode = false
	o.Enrich.Git = false
	o.SelfPID = -1
	return New(o, &fakeSource{table: table}, append([]Option{WithClock(func() time.Time { return f.now })}, opts...)...)
}

func userLine(id, text string) string {
	return fmt.Sprintf(`{"type":"user","sessionId":%q,"gitBranch":"main","timestamp":"2026-01-02T03:04:05.000Z","message":{"role":"user","content":%q}}`, id, text)
}

func assistantLine(id, text string) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":%q,"gitBranch":"main","timestamp":"2026-01-02T03:04:09.000Z","message":{"role":"assistant","content":[{"type":"text","text":%q}],"usage":{"input_tokens":1000,"cache_read_input_tokens":19000,"output_tokens":5}}}`, id, text)
}

func toolLine(id string) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":%q,"timestamp":"2026-01-02T03:04:12.000Z","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash"}]}}`, id)
}

func scan(t *testing.T, e *Engine) *Response {
	t.Helper()
	resp, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return resp
}

// ///////////////////////////////////////////////
// Scan Tests
// ///////////////////////////////////////////////

func TestScanSingleSession(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("webapp")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, userLine("s1", "fix the build"), assistantLine("s1", "Build is green."))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if resp.TotalCount != 1 || len(resp.Sessions) != 1 {
		t.Fatalf("TotalCount = %d, sessions = %d; want 1", resp.TotalCount, len(resp.Sessions))
	}
	s := resp.Sessions[0]
	if s.ID != "s1" || s.AgentType != process.KindClaude || s.PID != 100 {
		t.Errorf("identity = %s/%s/%d", s.ID, s.AgentType, s.PID)
	}
	if s.ProjectName != "webapp" || s.ProjectPath != proj || s.GitBranch != "main" {
		t.Errorf("project = %q %q %q", s.ProjectName, s.ProjectPath, s.GitBranch)
	}
	if s.Status != status.Idle {
		t.Errorf("Status = %v, want idle", s.Status)
	}
	if s.LastMessage != "Build is green." || s.LastMessageRole != "assistant" {
		t.Errorf("preview = %q (%s)", s.LastMessage, s.LastMessageRole)
	}
	if s.LastActivityAt != "2026-01-02T03:04:09.000Z" {
		t.Errorf("LastActivityAt = %q", s.LastActivityAt)
	}
	if s.ContextWindowPercent == nil || *s.ContextWindowPercent != 90 {
		t.Errorf("ContextWindowPercent = %v, want 90", s.ContextWindowPercent)
	}
	if resp.WaitingCount != 0 {
		t.Errorf("WaitingCount = %d, want 0", resp.WaitingCount)
	}
}

func TestScanWaitingCount(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("api")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, userLine("s1", "deploy"), toolLine("s1"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if len(resp.Sessions) != 1 || resp.Sessions[0].Status != status.Waiting {
		t.Fatalf("sessions = %+v, want one waiting", resp.Sessions)
	}
	if resp.WaitingCount != 1 {
		t.Errorf("WaitingCount = %d, want 1", resp.WaitingCount)
	}
}

func TestScanToolActiveWithCPU(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("api")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, toolLine("s1"))

	resp := scan(t, f.engine(agentTable(40, f.now.Add(-time.Hour), proj)))
	if len(resp.Sessions) != 1 || resp.Sessions[0].Status != status.Processing {
		t.Fatalf("sessions = %+v, want one processing", resp.Sessions)
	}
}

func TestScanTwoProcessesSameProject(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("shared")
	f.write(filepath.Join(dir, "a.jsonl"), 30*time.Second, userLine("a", "first"))
	f.write(filepath.Join(dir, "b.jsonl"), 40*time.Second, userLine("b", "second"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj, proj)))
	if len(resp.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(resp.Sessions))
	}
	ids := map[string]int{}
	pids := map[int]bool{}
	for _, s := range resp.Sessions {
		ids[s.ID]++
		pids[s.PID] = true
	}
	if ids["a"] != 1 || ids["b"] != 1 || len(pids) != 2 {
		t.Errorf("each transcript should pair with one process: ids=%v pids=%v", ids, pids)
	}
}

func TestScanMoreProcessesThanTranscripts(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("shared")
	f.write(filepath.Join(dir, "a.jsonl"), 30*time.Second, userLine("a", "only"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj, proj)))
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
	}
}

func TestScanUnclaimedTranscriptOverride(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("app")
	// The newest transcript is idle; an older, still-fresh one shows the
	// agent thinking about a new prompt.
	f.write(filepath.Join(dir, "primary.jsonl"), 4*time.Second, assistantLine("p", "done"))
	f.write(filepath.Join(dir, "other.jsonl"), 6*time.Second, userLine("o", "next task"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
	}
	s := resp.Sessions[0]
	if s.ID != "p" {
		t.Errorf("ID = %q, want the primary transcript's id", s.ID)
	}
	if s.Status != status.Thinking {
		t.Errorf("Status = %v, want thinking from the unclaimed transcript", s.Status)
	}
}

func TestScanUnclaimedNewestTranscriptWithTwoProcesses(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("shared")
	stamped := func(id, role, ts string) string {
		if role == "user" {
			return fmt.Sprintf(`{"type":"user","sessionId":%q,"timestamp":%q,"message":{"role":"user","content":"next task"}}`, id, ts)
		}
		return fmt.Sprintf(`{"type":"assistant","sessionId":%q,"timestamp":%q,"message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`, id, ts)
	}
	// Written oldest first so creation order matches the timestamps. The
	// newest file sorts first and is left over once a and b are paired.
	ts := func(age time.Duration) string { return f.now.Add(-age).UTC().Format("2006-01-02T15:04:05.000Z") }
	f.write(filepath.Join(dir, "a.jsonl"), 20*time.Second, stamped("a", "assistant", ts(20*time.Second)))
	f.write(filepath.Join(dir, "b.jsonl"), 10*time.Second, stamped("b", "assistant", ts(10*time.Second)))
	f.write(filepath.Join(dir, "c.jsonl"), 2*time.Second, stamped("c", "user", ts(2*time.Second)))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj, proj)))
	if len(resp.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(resp.Sessions))
	}
	for _, s := range resp.Sessions {
		if s.ID == "c" {
			t.Errorf("the newest transcript should stay unclaimed, got session %+v", s)
		}
		if s.Status != status.Thinking {
			t.Errorf("session %s status = %v, want thinking from the unclaimed transcript", s.ID, s.Status)
		}
	}
}

func TestScanStaleUnclaimedTranscriptIgnored(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("app")
	f.write(filepath.Join(dir, "primary.jsonl"), 4*time.Second, assistantLine("p", "done"))
	f.write(filepath.Join(dir, "old.jsonl"), time.Hour, userLine("o", "old prompt"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if len(resp.Sessions) != 1 || resp.Sessions[0].Status != status.Idle {
		t.Fatalf("sessions = %+v, want one idle", resp.Sessions)
	}
}

func TestScanActiveSubagents(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("app")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, userLine("s1", "go"), toolLine("s1"))
	f.write(filepath.Join(dir, "s1", "subagents", "agent-x.jsonl"), 2*time.Second, userLine("s1", "sub task"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
	}
	s := resp.Sessions[0]
	if s.ActiveSubagentCount != 1 || s.Status != status.Processing {
		t.Errorf("subagents = %d, status = %v; want 1, processing", s.ActiveSubagentCount, s.Status)
	}
	if resp.WaitingCount != 0 {
		t.Errorf("WaitingCount = %d, want 0", resp.WaitingCount)
	}
}

func TestScanSkipsSessionlessTranscript(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("app")
	f.write(filepath.Join(dir, "empty.jsonl"), time.Second, `{"type":"progress"}`)

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if resp.TotalCount != 0 {
		t.Errorf("TotalCount = %d, want 0", resp.TotalCount)
	}
}

func TestScanIgnoredProject(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("scratch")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, userLine("s1", "hi"))

	e := f.engine(agentTable(0, f.now.Add(-time.Hour), proj))
	e.opts.IsIgnored = func(p string) bool { return strings.HasSuffix(p, "/scratch") }
	if resp := scan(t, e); resp.TotalCount != 0 {
		t.Errorf("TotalCount = %d, want 0 for ignored project", resp.TotalCount)
	}
}

func TestScanProcessWithoutTranscripts(t *testing.T) {
	f := newFixture(t)
	proj, _ := f.project("fresh")
	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj)))
	if resp.TotalCount != 0 || resp.Sessions == nil {
		t.Errorf("resp = %+v, want empty non-nil sessions", resp)
	}
}

func TestScanOrdersByPriority(t *testing.T) {
	f := newFixture(t)
	idle, idleDir := f.project("idle")
	waiting, waitingDir := f.project("waiting")
	thinking, thinkingDir := f.project("thinking")
	f.write(filepath.Join(idleDir, "i.jsonl"), time.Minute, assistantLine("i", "done"))
	f.write(filepath.Join(waitingDir, "w.jsonl"), time.Minute, toolLine("w"))
	f.write(filepath.Join(thinkingDir, "t.jsonl"), time.Minute, userLine("t", "go"))

	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), idle, waiting, thinking)))
	var got []string
	for _, s := range resp.Sessions {
		got = append(got, s.ID)
	}
	if strings.Join(got, ",") != "t,w,i" {
		t.Errorf("order = %v, want [t w i]", got)
	}
}

func TestScanSnapshotError(t *testing.T) {
	errSnapshot := errors.New("ps failed")
	e := New(DefaultOptions(), &fakeSource{err: errSnapshot})
	if _, err := e.Scan(context.Background()); !errors.Is(err, errSnapshot) {
		t.Errorf("Scan error = %v, want wrapped snapshot error", err)
	}
}

func TestScanPrunesTracker(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("app")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, userLine("s1", "hi"))

	src := &fakeSource{table: agentTable(0, f.now.Add(-time.Hour), proj)}
	o := DefaultOptions()
	o.ClaudeProjectsDir = f.root
	o.OpenCode = false
	o.Enrich.Git = false
	o.SelfPID = -1
	e := New(o, src, WithClock(func() time.Time { return f.now }))

	scan(t, e)
	if e.tracker.Len() != 1 {
		t.Fatalf("tracker Len = %d, want 1", e.tracker.Len())
	}
	src.table = agentTable(0, f.now)
	scan(t, e)
	if e.tracker.Len() != 0 {
		t.Errorf("tracker Len = %d after process exit, want 0", e.tracker.Len())
	}
}

// ///////////////////////////////////////////////
// Enrichment Tests
// ///////////////////////////////////////////////

// gitRunner answers the enrichment commands for a plain GitHub checkout.
type gitRunner struct{}

func (gitRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	switch name + " " + strings.Join(args, " ") {
	case "git rev-parse --git-dir", "git rev-parse --git-common-dir":
		return []byte(".git\n"), nil
	case "git remote get-url origin":
		return []byte("git@github.com:acme/webapp.git\n"), nil
	case "git rev-list --left-right --count HEAD...@{upstream}":
		return []byte("1\t2\n"), nil
	}
	return nil, errors.New("not found")
}

func TestScanEnrichment(t *testing.T) {
	f := newFixture(t)
	proj, dir := f.project("webapp")
	f.write(filepath.Join(dir, "s1.jsonl"), time.Minute, userLine("s1", "hi"))

	en := enrich.New(gitRunner{}, enrich.Options{Git: true})
	resp := scan(t, f.engine(agentTable(0, f.now.Add(-time.Hour), proj), WithEnricher(en)))
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
	}
	s := resp.Sessions[0]
	if s.GitHubURL != "https://github.com/acme/webapp" || s.RepoName != "acme/webapp" || s.IsWorktree {
		t.Errorf("repo = %q %q worktree=%v", s.GitHubURL, s.RepoName, s.IsWorktree)
	}
	if s.CommitsAhead == nil || *s.CommitsAhead != 1 || s.CommitsBehind == nil || *s.CommitsBehind != 2 {
		t.Errorf("ahead/behind = %v/%v", s.CommitsAhead, s.CommitsBehind)
	}
}

// ///////////////////////////////////////////////
// JSON Tests
// ///////////////////////////////////////////////

func TestResponseJSON(t *testing.T) {
	pct := 42.5
	resp := Response{
		Sessions: []Session{{
			ID:                   "s1",
			AgentType:            process.KindClaude,
			ProjectName:          "app",
			ProjectPath:          "/p/app",
			Status:               status.Waiting,
			LastActivityAt:       "Unknown",
			ContextWindowPercent: &pct,
		}},
		TotalCount:   1,
		WaitingCount: 1,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`"agentType":"claude"`,
		`"status":"waiting"`,
		`"lastActivityAt":"Unknown"`,
		`"contextWindowPercent":42.5`,
		`"totalCount":1`,
		`"waitingCount":1`,
		`"isWorktree":false`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON missing %s: %s", want, out)
		}
	}
	for _, absent := range []string{"gitBranch", "prInfo", "commitsAhead", "activity"} {
		if strings.Contains(out, absent) {
			t.Errorf("JSON should omit %s: %s", absent, out)
		}
	}

	empty, _ := json.Marshal(Response{Sessions: []Session{}})
	if !strings.Contains(string(empty), `"sessions":[]`) {
		t.Errorf("empty response = %s", empty)
	}
}
