// Package transcript reads agent conversation transcripts (JSONL, one event
// per line) and extracts the features needed to infer a session's status.
//
// Only the tail of a transcript is read: metadata such as the session ID and
// timestamp is repeated on every line, while content-bearing messages are
// sparse among progress events during long tool runs.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// ErrNoSession is returned for transcripts that are empty or whose tail
// carries no session ID. Callers skip such files.
var ErrNoSession = errors.New("transcript has no session id")

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// entry is a single transcript line. Only fields used for status inference
// are decoded.
type entry struct {
	// Type is the entry kind ("user", "assistant", "system", "progress", ...).
	Type string `json:"type"`
	// Subtype qualifies system entries (e.g. "compact_boundary").
	Subtype string `json:"subtype"`
	// SessionID identifies the conversation.
	SessionID string `json:"sessionId"`
	// GitBranch is the branch checked out when the entry was written.
	GitBranch string `json:"gitBranch"`
	// Cwd is the agent's working directory when the entry was written.
	Cwd string `json:"cwd"`
	// Timestamp is the RFC 3339 write time.
	Timestamp string `json:"timestamp"`
	// IsCompactSummary marks the summary written when compaction finishes.
	IsCompactSummary bool `json:"isCompactSummary"`
	// Message is the conversational payload, absent on progress lines.
	Message *message `json:"message"`
}

// message is the model-facing part of an entry.
type message struct {
	Role    string   `json:"role"`
	Content *Content `json:"content"`
	Usage   *Usage   `json:"usage"`
}

// Usage is the token accounting attached to assistant messages.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// ContextTokens returns the tokens occupying the context window: fresh
// input plus cache writes and cache reads.
func (u Usage) ContextTokens() int64 {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Options controls how much of a transcript is read and how text is judged.
type Options struct {
	// MaxLines is how many trailing lines to examine.
	MaxLines int
	// PreviewRunes truncates the preview to this many runes.
	PreviewRunes int
	// LocalCommands is the vocabulary passed to [IsLocalCommand].
	LocalCommands []string
}

// DefaultOptions returns the standard tail window and preview length.
func DefaultOptions() Options {
	return Options{
		MaxLines:      500,
		PreviewRunes:  100,
		LocalCommands: DefaultLocalCommands,
	}
}

// Tail holds the features extracted from the end of a transcript.
type Tail struct {
	// SessionID is the newest non-empty session ID in the window.
	SessionID string
	// GitBranch is the newest non-empty branch in the window.
	GitBranch string
	// Cwd is the newest non-empty working directory in the window.
	Cwd string
	// Timestamp is the newest entry timestamp, verbatim.
	Timestamp string

	// HasMessage is false when no status-determining message was found.
	HasMessage bool
	// Type is the entry type of the status-determining message.
	Type string
	// Role is the message role ("user" or "assistant").
	Role string
	// HasToolUse is true when the message invokes a tool.
	HasToolUse bool
	// HasToolResult is true when the message feeds a tool result back.
	HasToolResult bool
	// IsLocalCommand is true for locally handled slash commands.
	IsLocalCommand bool
	// IsInterrupted is true when the user cancelled the turn.
	IsInterrupted bool
	// ThinkingOnly is true when the basis message holds only reasoning blocks.
	ThinkingOnly bool

	// Compacting is true when a compaction boundary is newer than any content.
	Compacting bool

	// Preview is the truncated text of the newest message with text.
	Preview string
	// PreviewRole is the role of the message the preview came from.
	PreviewRole string

	// Usage is the token usage of the newest message that reported it.
	Usage Usage
	// HasUsage is false when no message in the window reported usage.
	HasUsage bool
}

// ContextRemainingPercent estimates how much of a budget-token context
// window is still free. ok is false when no usage was reported.
func (t *Tail) ContextRemainingPercent(budget int64) (pct float64, ok bool) {
	if !t.HasUsage || budget <= 0 {
		return 0, false
	}
	return max(0, 100-100*float64(t.Usage.ContextTokens())/float64(budget)), true
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// ParseTail reads the last opts.MaxLines lines of the transcript at path and
// extracts status features, scanning newest to oldest. Malformed lines are
// skipped. It returns [ErrNoSession] for empty or session-less tails.
func ParseTail(path string, opts Options) (*Tail, error) {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultOptions().MaxLines
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	lines, err := readLastLines(f, opts.MaxLines)
	if err != nil {
		return nil, fmt.Errorf("reading transcript tail: %w", err)
	}

	entries := make([]entry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var e entry
		if err := json.Unmarshal(lines[i], &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	t := extract(entries, opts)
	if t.SessionID == "" {
		return nil, ErrNoSession
	}
	return t, nil
}

// extract derives a Tail from entries ordered newest first.
func extract(entries []entry, opts Options) *Tail {
	t := &Tail{}
	var thinking *entry
	compactDecided := false

	for i := range entries {
		e := &entries[i]
		if t.SessionID == "" {
			t.SessionID = e.SessionID
		}
		if t.GitBranch == "" {
			t.GitBranch = e.GitBranch
		}
		if t.Cwd == "" {
			t.Cwd = e.Cwd
		}
		if t.Timestamp == "" {
			t.Timestamp = e.Timestamp
		}
		if !t.HasUsage && e.Message != nil && e.Message.Usage != nil {
			t.Usage = *e.Message.Usage
			t.HasUsage = true
		}

		// Compaction is only in progress if its boundary precedes (in newest-
		// first order) both the finished summary and any content.
		if !t.HasMessage && !compactDecided {
			switch {
			case e.IsCompactSummary:
				compactDecided = true
			case e.Subtype == "compact_boundary":
				t.Compacting = true
				compactDecided = true
			}
		}

		if !t.HasMessage && e.Message != nil && e.Message.Content != nil {
			c := *e.Message.Content
			switch {
			case c.Empty():
			case c.ThinkingOnly():
				if thinking == nil {
					thinking = e
				}
			default:
				t.setBasis(e, c, opts)
			}
		}
	}

	if !t.HasMessage && thinking != nil {
		t.setBasis(thinking, *thinking.Message.Content, opts)
		t.Role = "assistant"
		t.HasToolUse = false
		t.ThinkingOnly = true
	}

	t.Preview, t.PreviewRole = preview(entries, opts.PreviewRunes)
	return t
}

// setBasis records e as the status-determining message.
func (t *Tail) setBasis(e *entry, c Content, opts Options) {
	text := c.PrimaryText()
	t.HasMessage = true
	t.Type = e.Type
	t.Role = e.Message.Role
	if t.Role == "" {
		t.Role = e.Type
	}
	t.HasToolUse = c.Has(BlockToolUse)
	t.HasToolResult = c.Has(BlockToolResult)
	t.IsLocalCommand = IsLocalCommand(text, opts.LocalCommands)
	t.IsInterrupted = IsInterrupted(text)
}

// preview finds the newest message with renderable text and truncates it.
func preview(entries []entry, maxRunes int) (string, string) {
	for _, e := range entries {
		if e.Message == nil || e.Message.Content == nil {
			continue
		}
		if text := e.Message.Content.PrimaryText(); text != "" {
			return Truncate(text, maxRunes), e.Message.Role
		}
	}
	return "", ""
}

// Truncate shortens s to at most n runes, appending "..." when cut.
// A non-positive n disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}

// ///////////////////////////////////////////////
// Tail Reading
// ///////////////////////////////////////////////

// tailChunk is the block size used when seeking backward.
const tailChunk = 64 * 1024

// readLastLines returns up to n non-empty trailing lines of r, oldest first.
// It reads backward in chunks so large transcripts are not read in full.
func readLastLines(r io.ReadSeeker, n int) ([][]byte, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	var buf []byte
	pos := size
	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(tailChunk)
		if pos < step {
			step = pos
		}
		pos -= step
		chunk := make([]byte, step)
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	raw := bytes.Split(buf, []byte{'\n'})
	// When the read stopped mid-file the first piece is a partial line.
	if pos > 0 && len(raw) > 0 {
		raw = raw[1:]
	}
	lines := make([][]byte, 0, n)
	for _, l := range raw {
		if l = bytes.TrimSpace(l); len(l) > 0 {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
