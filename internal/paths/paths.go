// Package paths centralizes file and directory names used across the project.
// All data directory file names and default discovery roots are defined here
// as the single source of truth.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "daemon.pid"
	ConfigFile = "config.toml"
	LogFile    = "agentwatch.log"
	SocketFile = "agentwatch.sock"
	BinaryName = "agentwatch"
	DataDirRel = ".agentwatch" // relative to $HOME
)

// PipeName is the named pipe used by serve on Windows.
const PipeName = `\\.\pipe\agentwatch`

// Per-project and discovery names.
const (
	// ProjectConfigFile holds user-declared links in a project root.
	ProjectConfigFile = ".agent-sessions.json"
	// ClaudeProjectsRel is the transcripts root relative to $HOME.
	ClaudeProjectsRel = ".claude/projects"
	// SubagentsDir holds delegated transcripts beneath a session directory.
	SubagentsDir = "subagents"
	// OpenCodeDB is the store inside each OpenCode project slug directory.
	OpenCodeDB = "storage/db.sqlite"
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Socket returns the full path to the serve socket.
func (d DataDir) Socket() string { return filepath.Join(d.Root, SocketFile) }

// ///////////////////////////////////////////////
// Default Roots
// ///////////////////////////////////////////////

// home returns the user's home directory, or "." when it cannot be found.
func home() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return h
}

// DefaultDataDir returns ~/.agentwatch.
func DefaultDataDir() string {
	return filepath.Join(home(), DataDirRel)
}

// DefaultClaudeProjects returns ~/.claude/projects.
func DefaultClaudeProjects() string {
	return filepath.Join(home(), filepath.FromSlash(ClaudeProjectsRel))
}

// DefaultOpenCodeProjects returns the per-project OpenCode root under the
// platform's local data directory.
func DefaultOpenCodeProjects() string {
	return filepath.Join(dataLocal(), "opencode", "project")
}

// dataLocal mirrors the XDG data-home convention OpenCode uses.
func dataLocal() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return v
		}
	case "darwin":
		return filepath.Join(home(), "Library", "Application Support")
	}
	return filepath.Join(home(), ".local", "share")
}
