package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tools.zach/dev/agentwatch/internal/logger"
)

// ///////////////////////////////////////////////
// Transcript Discovery
// ///////////////////////////////////////////////

// File is a transcript found on disk.
type File struct {
	// Path is the absolute transcript path.
	Path string
	// ModTime is the last write time.
	ModTime time.Time
}

// subagentPrefix names sub-agent transcripts, which are never primaries.
const subagentPrefix = "agent-"

// ListTranscripts returns the top-level transcripts in dir sorted newest
// mtime first. A missing dir yields no files and no error.
func ListTranscripts(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading project dir: %w", err)
	}

	var files []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, subagentPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Path: filepath.Join(dir, name), ModTime: info.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// CreatedAt returns the best available creation time for a transcript: the
// filesystem birth time, else the timestamp of its first entry, else its
// mtime.
func CreatedAt(f File) time.Time {
	if info, err := os.Stat(f.Path); err == nil {
		if t, ok := birthTime(f.Path, info); ok {
			return t
		}
	}
	if t, ok := firstTimestamp(f.Path); ok {
		return t
	}
	return f.ModTime
}

// firstTimestamp returns the timestamp of the first entry that has one
// within the opening lines of path.
func firstTimestamp(path string) (time.Time, bool) {
	var found time.Time
	ok := false
	scanHead(path, headLines, func(e headEntry) bool {
		if e.Timestamp == "" {
			return true
		}
		t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return true
		}
		found, ok = t, true
		return false
	})
	return found, ok
}

// ///////////////////////////////////////////////
// Sub-agents
// ///////////////////////////////////////////////

// headLines bounds how far into a file the head scanners look.
const headLines = 5

// headEntry is the subset of fields read from the start of a transcript.
type headEntry struct {
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
}

// scanHead calls fn for each decodable entry among the first n lines of path
// until fn returns false. Unreadable files are treated as empty.
func scanHead(path string, n int, fn func(headEntry) bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for i := 0; i < n && scanner.Scan(); i++ {
		var e headEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// CountActiveSubagents counts sub-agent transcripts belonging to sessionID
// that were written within window of now. Both the project dir and the
// per-session subagents dir are searched.
func CountActiveSubagents(dir, sessionID string, now time.Time, window time.Duration) int {
	if sessionID == "" {
		return 0
	}
	count := 0
	for _, d := range []string{dir, filepath.Join(dir, sessionID, "subagents")} {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, subagentPrefix) || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) >= window {
				continue
			}
			if belongsTo(filepath.Join(d, name), sessionID) {
				count++
			}
		}
	}
	if count > 0 {
		logger.Trace(slog.Default(), "active subagents", "session", sessionID, "count", count)
	}
	return count
}

// belongsTo reports whether one of the opening lines of path names sessionID.
func belongsTo(path, sessionID string) bool {
	match := false
	scanHead(path, headLines, func(e headEntry) bool {
		if e.SessionID == sessionID {
			match = true
			return false
		}
		return true
	})
	return match
}
