// Tests for transcript tail parsing.
// Covers [ParseTail] feature extraction (compaction, thinking-only fallback,
// previews, usage, local commands), [ErrNoSession], [Truncate], and the
// backward chunked reader.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTranscript writes lines to a temp transcript and returns its path.
func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const (
	userText      = `{"type":"user","sessionId":"s1","gitBranch":"main","cwd":"/p/app","timestamp":"2025-01-01T10:00:00Z","message":{"role":"user","content":"fix the build"}}`
	assistantTool = `{"type":"assistant","sessionId":"s1","timestamp":"2025-01-01T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"Running tests"},{"type":"tool_use","name":"Bash"}],"usage":{"input_tokens":1000,"cache_creation_input_tokens":500,"cache_read_input_tokens":500,"output_tokens":20}}}`
	toolResult    = `{"type":"user","sessionId":"s1","timestamp":"2025-01-01T10:00:09Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1"}]}}`
	assistantText = `{"type":"assistant","sessionId":"s1","timestamp":"2025-01-01T10:00:12Z","message":{"role":"assistant","content":[{"type":"text","text":"All green."}]}}`
	thinkingOnly  = `{"type":"assistant","sessionId":"s1","timestamp":"2025-01-01T10:00:15Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"..."}]}}`
	progressLine  = `{"type":"progress","sessionId":"s1","timestamp":"2025-01-01T10:00:20Z"}`
)

// ///////////////////////////////////////////////
// ParseTail Tests
// ///////////////////////////////////////////////

func TestParseTailBasisMessage(t *testing.T) {
	tests := []struct {
		name           string
		lines          []string
		wantRole       string
		wantToolUse    bool
		wantToolResult bool
		wantLocal      bool
		wantInterrupt  bool
		wantThinking   bool
	}{
		{
			name:     "user prompt",
			lines:    []string{userText},
			wantRole: "user",
		},
		{
			name:        "assistant tool use",
			lines:       []string{userText, assistantTool},
			wantRole:    "assistant",
			wantToolUse: true,
		},
		{
			name:           "tool result",
			lines:          []string{userText, assistantTool, toolResult},
			wantRole:       "user",
			wantToolResult: true,
		},
		{
			name:     "progress lines are skipped",
			lines:    []string{userText, assistantText, progressLine, progressLine},
			wantRole: "assistant",
		},
		{
			name:     "thinking-only skipped when content exists",
			lines:    []string{userText, assistantText, thinkingOnly},
			wantRole: "assistant",
		},
		{
			name:         "thinking-only fallback",
			lines:        []string{progressLine, thinkingOnly, progressLine},
			wantRole:     "assistant",
			wantThinking: true,
		},
		{
			name:      "local command",
			lines:     []string{assistantText, `{"type":"user","sessionId":"s1","message":{"role":"user","content":"<command-name>/clear</command-name>"}}`},
			wantRole:  "user",
			wantLocal: true,
		},
		{
			name:          "interrupted",
			lines:         []string{assistantTool, `{"type":"user","sessionId":"s1","message":{"role":"user","content":[{"type":"text","text":"[Request interrupted by user for tool use]"}]}}`},
			wantRole:      "user",
			wantInterrupt: true,
		},
		{
			name:     "malformed lines skipped",
			lines:    []string{userText, `{not json`, `garbage`},
			wantRole: "user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tail, err := ParseTail(writeTranscript(t, tt.lines...), DefaultOptions())
			if err != nil {
				t.Fatalf("ParseTail: %v", err)
			}
			if !tail.HasMessage {
				t.Fatal("expected a basis message")
			}
			if tail.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", tail.Role, tt.wantRole)
			}
			if tail.HasToolUse != tt.wantToolUse {
				t.Errorf("HasToolUse = %v, want %v", tail.HasToolUse, tt.wantToolUse)
			}
			if tail.HasToolResult != tt.wantToolResult {
				t.Errorf("HasToolResult = %v, want %v", tail.HasToolResult, tt.wantToolResult)
			}
			if tail.IsLocalCommand != tt.wantLocal {
				t.Errorf("IsLocalCommand = %v, want %v", tail.IsLocalCommand, tt.wantLocal)
			}
			if tail.IsInterrupted != tt.wantInterrupt {
				t.Errorf("IsInterrupted = %v, want %v", tail.IsInterrupted, tt.wantInterrupt)
			}
			if tail.ThinkingOnly != tt.wantThinking {
				t.Errorf("ThinkingOnly = %v, want %v", tail.ThinkingOnly, tt.wantThinking)
			}
		})
	}
}

func TestParseTailMetadata(t *testing.T) {
	tail, err := ParseTail(writeTranscript(t, userText, assistantTool, progressLine), DefaultOptions())
	if err != nil {
		t.Fatalf("ParseTail: %v", err)
	}
	if tail.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", tail.SessionID)
	}
	// Branch and cwd only appear on the oldest line.
	if tail.GitBranch != "main" || tail.Cwd != "/p/app" {
		t.Errorf("GitBranch/Cwd = %q/%q, want main//p/app", tail.GitBranch, tail.Cwd)
	}
	if tail.Timestamp != "2025-01-01T10:00:20Z" {
		t.Errorf("Timestamp = %q, want newest", tail.Timestamp)
	}
}

func TestParseTailNoMessage(t *testing.T) {
	tail, err := ParseTail(writeTranscript(t, progressLine, progressLine), DefaultOptions())
	if err != nil {
		t.Fatalf("ParseTail: %v", err)
	}
	if tail.HasMessage {
		t.Error("expected no basis message")
	}
	if tail.Preview != "" {
		t.Errorf("Preview = %q, want empty", tail.Preview)
	}
}

func TestParseTailCompaction(t *testing.T) {
	boundary := `{"type":"system","subtype":"compact_boundary","sessionId":"s1"}`
	summary := `{"type":"user","sessionId":"s1","isCompactSummary":true,"message":{"role":"user","content":"Summary of the conversation"}}`

	tests := []struct {
		name  string
		lines []string
		want  bool
	}{
		{"boundary newest", []string{userText, assistantText, boundary}, true},
		{"boundary then progress", []string{assistantText, boundary, progressLine}, true},
		{"summary after boundary", []string{assistantText, boundary, summary}, false},
		{"content after boundary", []string{boundary, assistantText}, false},
		{"no boundary", []string{userText}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tail, err := ParseTail(writeTranscript(t, tt.lines...), DefaultOptions())
			if err != nil {
				t.Fatalf("ParseTail: %v", err)
			}
			if tail.Compacting != tt.want {
				t.Errorf("Compacting = %v, want %v", tail.Compacting, tt.want)
			}
		})
	}
}

func TestParseTailPreview(t *testing.T) {
	long := strings.Repeat("é", 150)
	lines := []string{
		userText,
		fmt.Sprintf(`{"type":"assistant","sessionId":"s1","message":{"role":"assistant","content":[{"type":"thinking"},{"type":"text","text":%q}]}}`, long),
		toolResult,
	}
	tail, err := ParseTail(writeTranscript(t, lines...), DefaultOptions())
	if err != nil {
		t.Fatalf("ParseTail: %v", err)
	}
	want := strings.Repeat("é", 100) + "..."
	if tail.Preview != want {
		t.Errorf("Preview = %q, want %q", tail.Preview, want)
	}
	if tail.PreviewRole != "assistant" {
		t.Errorf("PreviewRole = %q, want assistant", tail.PreviewRole)
	}
}

func TestParseTailUsage(t *testing.T) {
	tail, err := ParseTail(writeTranscript(t, userText, assistantTool, toolResult), DefaultOptions())
	if err != nil {
		t.Fatalf("ParseTail: %v", err)
	}
	if !tail.HasUsage {
		t.Fatal("expected usage")
	}
	if got := tail.Usage.ContextTokens(); got != 2000 {
		t.Errorf("ContextTokens = %d, want 2000", got)
	}
	pct, ok := tail.ContextRemainingPercent(10000)
	if !ok || pct != 80 {
		t.Errorf("ContextRemainingPercent = (%v, %v), want (80, true)", pct, ok)
	}
	if pct, _ := tail.ContextRemainingPercent(1000); pct != 0 {
		t.Errorf("over-budget percent = %v, want 0", pct)
	}

	noUsage, err := ParseTail(writeTranscript(t, userText), DefaultOptions())
	if err != nil {
		t.Fatalf("ParseTail: %v", err)
	}
	if _, ok := noUsage.ContextRemainingPercent(10000); ok {
		t.Error("expected no percent without usage")
	}
}

func TestParseTailNoSession(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"empty file", nil},
		{"no session id", []string{`{"type":"user","message":{"role":"user","content":"hi"}}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "x.jsonl")
			data := ""
			if len(tt.lines) > 0 {
				data = strings.Join(tt.lines, "\n")
			}
			if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := ParseTail(path, DefaultOptions()); !errors.Is(err, ErrNoSession) {
				t.Errorf("err = %v, want ErrNoSession", err)
			}
		})
	}
}

func TestParseTailMissingFile(t *testing.T) {
	_, err := ParseTail(filepath.Join(t.TempDir(), "missing.jsonl"), DefaultOptions())
	if err == nil || errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want open error", err)
	}
}

func TestParseTailWindow(t *testing.T) {
	// The user prompt falls outside a two-line window.
	opts := DefaultOptions()
	opts.MaxLines = 2
	tail, err := ParseTail(writeTranscript(t, userText, progressLine, progressLine), opts)
	if err != nil {
		t.Fatalf("ParseTail: %v", err)
	}
	if tail.HasMessage {
		t.Error("expected the prompt to be outside the window")
	}
}

// ///////////////////////////////////////////////
// Reader and Truncate Tests
// ///////////////////////////////////////////////

func TestReadLastLinesAcrossChunks(t *testing.T) {
	var lines []string
	for i := range 3000 {
		lines = append(lines, fmt.Sprintf(`{"n":%d,"pad":%q}`, i, strings.Repeat("x", 60)))
	}
	path := writeTranscript(t, lines...)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := readLastLines(f, 500)
	if err != nil {
		t.Fatalf("readLastLines: %v", err)
	}
	if len(got) != 500 {
		t.Fatalf("got %d lines, want 500", len(got))
	}
	if string(got[0]) != lines[2500] || string(got[499]) != lines[2999] {
		t.Errorf("unexpected window bounds: %s ... %s", got[0], got[499])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"hello world", 5, "hello..."},
		{"日本語テキスト", 3, "日本語..."},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
