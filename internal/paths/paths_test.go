package paths

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// ///////////////////////////////////////////////
// Constant Value Tests
// ///////////////////////////////////////////////

func TestConstantValues(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DataDirRel", DataDirRel, ".agentwatch"},
		{"PIDFile", PIDFile, "daemon.pid"},
		{"ConfigFile", ConfigFile, "config.toml"},
		{"LogFile", LogFile, "agentwatch.log"},
		{"SocketFile", SocketFile, "agentwatch.sock"},
		{"BinaryName", BinaryName, "agentwatch"},
		{"ProjectConfigFile", ProjectConfigFile, ".agent-sessions.json"},
		{"PipeName", PipeName, `\\.\pipe\agentwatch`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// DataDir Method Tests
// ///////////////////////////////////////////////

func TestDataDirMethods(t *testing.T) {
	root := filepath.Join("home", "user", ".agentwatch")
	d := DataDir{Root: root}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PID", d.PID(), filepath.Join(root, "daemon.pid")},
		{"Config", d.Config(), filepath.Join(root, "config.toml")},
		{"Log", d.Log(), filepath.Join(root, "agentwatch.log")},
		{"Socket", d.Socket(), filepath.Join(root, "agentwatch.sock")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDataDirEmptyRoot(t *testing.T) {
	d := DataDir{Root: ""}

	// With an empty root, methods should return just the filename.
	if got := d.PID(); got != PIDFile {
		t.Errorf("PID() with empty root = %q, want %q", got, PIDFile)
	}
	if got := d.Socket(); got != SocketFile {
		t.Errorf("Socket() with empty root = %q, want %q", got, SocketFile)
	}
}

// ///////////////////////////////////////////////
// Default Root Tests
// ///////////////////////////////////////////////

func TestDefaultRoots(t *testing.T) {
	t.Setenv("HOME", "/tmp/home")
	t.Setenv("USERPROFILE", `C:\Users\me`)
	t.Setenv("XDG_DATA_HOME", "")

	if got := DefaultClaudeProjects(); !strings.HasSuffix(got, filepath.Join(".claude", "projects")) {
		t.Errorf("DefaultClaudeProjects() = %q", got)
	}
	if got := DefaultDataDir(); filepath.Base(got) != DataDirRel {
		t.Errorf("DefaultDataDir() = %q", got)
	}
	if got := DefaultOpenCodeProjects(); !strings.HasSuffix(got, filepath.Join("opencode", "project")) {
		t.Errorf("DefaultOpenCodeProjects() = %q", got)
	}
}

func TestDefaultOpenCodeHonorsXDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG_DATA_HOME is checked on all platforms but paths differ")
	}
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DefaultOpenCodeProjects(); got != "/data/opencode/project" {
		t.Errorf("DefaultOpenCodeProjects() = %q, want /data/opencode/project", got)
	}
}
