package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "status.cpu_active_percent")
// to their [FieldDoc] entries. The genconfig tool uses this map to annotate the
// generated config.default.toml with inline comments and alternative examples.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version; do not edit.",
	},

	// ── Discovery ────────────────────────────────────────────────
	"discovery.claude_projects_dir": {
		Comment:      "Transcripts root. Defaults to ~/.claude/projects.",
		Alternatives: []string{`claude_projects_dir = "~/.claude/projects"`},
	},
	"discovery.opencode_dir": {
		Comment:      "OpenCode per-project root. Defaults to <data-home>/opencode/project.",
		Alternatives: []string{`opencode_dir = "~/.local/share/opencode/project"`},
	},
	"discovery.opencode": {
		Comment: "Report OpenCode sessions alongside Claude sessions.",
	},
	"discovery.ignore": {
		Comment:      "Glob patterns matched against project paths. Matching projects are never reported.\nSupports ** for any depth.",
		Alternatives: []string{`ignore = ["/home/me/work/secret-*", "**/tmp/**"]`},
	},
	"discovery.decode_anchors": {
		Comment: "Folder names after which a dashed project name is kept whole when a\nproject directory cannot be found on disk.",
	},
	"discovery.max_tail_lines": {
		Comment: "Trailing transcript lines examined per scan.",
	},
	"discovery.preview_chars": {
		Comment: "Characters kept in the last-message preview.",
	},

	// ── Status ───────────────────────────────────────────────────
	"status.streaming_window_ms": {
		Comment: "A text reply written within this window is still streaming (processing).\nMust be smaller than tool_active_window_ms.",
	},
	"status.tool_active_window_ms": {
		Comment: "A tool call written within this window is running; after it, the agent\nis waiting on you (usually a permission prompt).",
	},
	"status.cpu_active_percent": {
		Comment: "CPU usage above which a pending tool call counts as running regardless of file age.",
	},
	"status.subagent_window_seconds": {
		Comment: "Sub-agent transcripts written within this window keep the parent session processing.",
	},
	"status.secondary_file_window_seconds": {
		Comment: "Unassigned transcripts written within this window may override a session's status.",
	},
	"status.context_window_tokens": {
		Comment:      "Context size used for the remaining-context percentage.",
		Alternatives: []string{"context_window_tokens = 1000000"},
	},
	"status.local_commands": {
		Comment: "Slash commands handled by the CLI itself. A session whose last message is one\nof these is idle.",
	},

	// ── Enrich ───────────────────────────────────────────────────
	"enrich.enabled": {
		Comment: "Look up worktree status, GitHub URL, and ahead/behind counts with git.",
	},
	"enrich.github": {
		Comment: "Look up the pull request and CI status for the current branch with gh.",
	},
	"enrich.pr_ttl_seconds": {
		Comment: "How long pull request lookups are cached.",
	},
	"enrich.ahead_behind_ttl_seconds": {
		Comment: "How long ahead/behind counts are cached.",
	},
	"enrich.command_timeout_ms": {
		Comment: "Timeout for each git or gh invocation.",
	},

	// ── Links ────────────────────────────────────────────────────
	"links.ttl_seconds": {
		Comment: "How long a project's .agent-sessions.json is cached.",
	},

	// ── Watch ────────────────────────────────────────────────────
	"watch.poll_interval_seconds": {
		Comment: "Rescan interval for watch and serve when no file events arrive.",
	},
	"watch.debounce_ms": {
		Comment: "Bursts of transcript writes within this window trigger a single rescan.",
	},

	// ── Serve ────────────────────────────────────────────────────
	"serve.socket": {
		Comment:      "Listen address for serve. Defaults to agentwatch.sock in the data directory,\nor \\\\.\\pipe\\agentwatch on Windows.",
		Alternatives: []string{`socket = "/tmp/agentwatch.sock"`},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment:      "Minimum log level.",
		Alternatives: []string{`level = "debug"`, `level = "trace"`},
	},
	"log.max_size_mb": {
		Comment: "Rotate the log file at this size.",
	},
}
