// Package process enumerates OS processes and filters them down to the
// top-level, user-initiated coding-agent processes worth reporting.
//
// A [Source] produces a point-in-time [Table]; a [Filter] then applies the
// candidate, self, sub-agent, bridge, and orphan rules to it. Sources are
// platform specific: Linux reads /proc, other Unix systems shell out to ps
// and lsof.
package process

import (
	"context"
	"path"
	"sort"
	"strings"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Kind identifies the agent product a process belongs to.
type Kind string

const (
	KindClaude   Kind = "claude"
	KindOpenCode Kind = "opencode"
)

// Record is one row of the OS process table.
type Record struct {
	// PID is the process ID.
	PID int
	// PPID is the parent process ID (0 when unknown).
	PPID int
	// Name is the short executable name as reported by the OS.
	Name string
	// Cmdline holds the command-line arguments, argv[0] first.
	Cmdline []string
	// Cwd is the current working directory; empty when unreadable or not requested.
	Cwd string
	// CPUPercent is recent CPU usage where 100 means one full core.
	CPUPercent float64
	// MemoryBytes is the resident set size.
	MemoryBytes uint64
	// StartTime is the process start time in seconds since the Unix epoch.
	StartTime int64
}

// Table is a snapshot of the process table keyed by PID.
type Table map[int]Record

// AgentProcess is a process that survived filtering.
type AgentProcess struct {
	PID         int
	Kind        Kind
	Cwd         string
	CPUPercent  float64
	MemoryBytes uint64
	StartTime   int64
}

// Source produces process table snapshots.
type Source interface {
	Snapshot(ctx context.Context) (Table, error)
}

// WantCwdFunc reports whether a source should resolve the working directory
// of r. Resolving cwd is the expensive part of a snapshot on some platforms.
type WantCwdFunc func(r Record) bool

// ///////////////////////////////////////////////
// Filter
// ///////////////////////////////////////////////

// Filter holds the name rules used to classify processes.
type Filter struct {
	// AgentNames are executable names of the primary agent CLI (e.g. "claude").
	AgentNames []string
	// OpenCodeNames are executable names of OpenCode processes.
	OpenCodeNames []string
	// SelfNames are substrings identifying this tool and its sibling apps.
	SelfNames []string
	// BridgeMarkers are parent command-line substrings of host-app bridges
	// whose agent children are not user sessions.
	BridgeMarkers []string
}

// DefaultFilter returns the built-in classification rules.
func DefaultFilter() Filter {
	return Filter{
		AgentNames:    []string{"claude"},
		OpenCodeNames: []string{"opencode"},
		SelfNames:     []string{"agentwatch", "claude-sessions", "agent-sessions", "tauri-temp"},
		BridgeMarkers: []string{"claude-code-acp"},
	}
}

// IsCandidate reports whether r looks like a primary agent process: argv[0]
// equals an agent name or ends in "/<name>", or the process name matches.
func (f Filter) IsCandidate(r Record) bool {
	return matchesExecutable(r, f.AgentNames)
}

// WantCwd reports whether the working directory of r is needed by either
// the agent or OpenCode rules. Pass it to a [Source] constructor.
func (f Filter) WantCwd(r Record) bool {
	return matchesExecutable(r, f.AgentNames) || matchesExecutable(r, f.OpenCodeNames)
}

// Agents returns the primary agent processes in t, excluding self (the PID
// of the calling process), sub-agents, bridge children, and orphans.
// The result is sorted by PID.
func (f Filter) Agents(t Table, self int) []AgentProcess {
	var out []AgentProcess
	for _, r := range t {
		if !f.IsCandidate(r) || f.isSelf(r, self) {
			continue
		}
		parent, hasParent := t[r.PPID]
		if hasParent && f.IsCandidate(parent) {
			continue
		}
		if hasParent && f.isBridge(parent) {
			continue
		}
		if IsOrphaned(t, r.PID) {
			continue
		}
		out = append(out, toAgent(r, KindClaude))
	}
	sortByPID(out)
	return out
}

// OpenCode returns live OpenCode processes in t, sorted by PID.
func (f Filter) OpenCode(t Table, self int) []AgentProcess {
	var out []AgentProcess
	for _, r := range t {
		if !matchesExecutable(r, f.OpenCodeNames) || f.isSelf(r, self) {
			continue
		}
		if IsOrphaned(t, r.PID) {
			continue
		}
		out = append(out, toAgent(r, KindOpenCode))
	}
	sortByPID(out)
	return out
}

// isSelf reports whether r is the calling process or one of its sibling apps.
func (f Filter) isSelf(r Record, self int) bool {
	if r.PID == self {
		return true
	}
	name := strings.ToLower(r.Name)
	for _, s := range f.SelfNames {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// isBridge reports whether parent is a host-app bridge process.
func (f Filter) isBridge(parent Record) bool {
	cmd := strings.Join(parent.Cmdline, " ")
	for _, m := range f.BridgeMarkers {
		if m != "" && strings.Contains(cmd, m) {
			return true
		}
	}
	return false
}

// ///////////////////////////////////////////////
// Orphan Detection
// ///////////////////////////////////////////////

// initPID is the PID of the OS init process.
const initPID = 1

// IsOrphaned reports whether pid has lost its controlling terminal. A process
// is orphaned when it is missing from t, has no parent, its parent is init or
// missing, or its grandparent is init (the terminal shell was reparented).
func IsOrphaned(t Table, pid int) bool {
	r, ok := t[pid]
	if !ok || r.PPID <= 0 || r.PPID == initPID {
		return true
	}
	parent, ok := t[r.PPID]
	if !ok {
		return true
	}
	return parent.PPID == initPID
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// matchesExecutable reports whether argv[0] or the process name matches one
// of names, case-insensitively.
func matchesExecutable(r Record, names []string) bool {
	var arg0 string
	if len(r.Cmdline) > 0 {
		arg0 = strings.ToLower(r.Cmdline[0])
	}
	name := strings.ToLower(r.Name)
	for _, n := range names {
		if n == "" {
			continue
		}
		if arg0 == n || strings.HasSuffix(arg0, "/"+n) || name == n {
			return true
		}
		if arg0 != "" && path.Base(strings.ReplaceAll(arg0, `\`, "/")) == n+".exe" {
			return true
		}
	}
	return false
}

func toAgent(r Record, kind Kind) AgentProcess {
	return AgentProcess{
		PID:         r.PID,
		Kind:        kind,
		Cwd:         r.Cwd,
		CPUPercent:  r.CPUPercent,
		MemoryBytes: r.MemoryBytes,
		StartTime:   r.StartTime,
	}
}

func sortByPID(ps []AgentProcess) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].PID < ps[j].PID })
}
