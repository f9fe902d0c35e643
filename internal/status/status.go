// Package status infers a coarse conversation status for an agent session
// from transcript features and process liveness.
//
// Inference is a pure function: the same [Features] and [Thresholds] always
// yield the same [Status]. Nothing about previous scans is consulted.
package status

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is the inferred state of a session.
type Status int

const (
	// Idle means the turn is complete and nothing is pending.
	Idle Status = iota
	// Waiting means the agent is blocked on the user, typically a permission prompt.
	Waiting
	// Thinking means the agent is generating a response to user input.
	Thinking
	// Processing means output is streaming or a tool is running.
	Processing
	// Compacting means the agent is summarizing its context.
	Compacting
)

var names = [...]string{
	Idle:       "idle",
	Waiting:    "waiting",
	Thinking:   "thinking",
	Processing: "processing",
	Compacting: "compacting",
}

// String returns the lowercase status name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return names[s]
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(names) {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(names[s]), nil
}

// UnmarshalText decodes a lowercase status name.
func (s *Status) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// Parse returns the status named name, case-insensitively.
func Parse(name string) (Status, error) {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown status %q", name)
}

// ///////////////////////////////////////////////
// Attention Priority
// ///////////////////////////////////////////////

// Priority ranks how much a status demands attention. Lower is more active.
func Priority(s Status) int {
	switch s {
	case Thinking, Processing, Compacting:
		return 0
	case Waiting:
		return 1
	default:
		return 2
	}
}

// Key is the portion of a session used for list ordering.
type Key struct {
	Status   Status
	Activity time.Time
	ID       string
}

// Less orders by priority, then most recent activity first, then by ID.
func Less(a, b Key) bool {
	if pa, pb := Priority(a.Status), Priority(b.Status); pa != pb {
		return pa < pb
	}
	if !a.Activity.Equal(b.Activity) {
		return a.Activity.After(b.Activity)
	}
	return a.ID < b.ID
}

// ///////////////////////////////////////////////
// Thresholds
// ///////////////////////////////////////////////

// Thresholds tune the liveness checks used by [Infer].
type Thresholds struct {
	// Streaming is how recently the transcript must have been written for a
	// text-only agent message to count as still streaming.
	Streaming time.Duration
	// ToolActive is how recently the transcript must have been written for a
	// pending tool call to count as running rather than awaiting approval.
	ToolActive time.Duration
	// CPUActive is the CPU percentage above which a pending tool call counts
	// as running regardless of file recency.
	CPUActive float64
}

// DefaultThresholds returns the standard liveness windows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Streaming:  3 * time.Second,
		ToolActive: 8 * time.Second,
		CPUActive:  5.0,
	}
}

// Validate checks that the windows are positive and strictly ordered.
func (th Thresholds) Validate() error {
	var errs []error
	if th.Streaming <= 0 {
		errs = append(errs, fmt.Errorf("streaming window must be positive, got %s", th.Streaming))
	}
	if th.ToolActive <= th.Streaming {
		errs = append(errs, fmt.Errorf("tool-active window (%s) must exceed streaming window (%s)", th.ToolActive, th.Streaming))
	}
	if th.CPUActive < 0 {
		errs = append(errs, fmt.Errorf("cpu threshold must be >= 0, got %g", th.CPUActive))
	}
	return errors.Join(errs...)
}

// ///////////////////////////////////////////////
// Inference
// ///////////////////////////////////////////////

// Features are the inputs to [Infer] for one session.
type Features struct {
	// HasMessage is false when the lookback window held no content message.
	HasMessage bool
	// Role is "assistant" or "user" for the status-determining message.
	Role string

	HasToolUse     bool
	HasToolResult  bool
	IsLocalCommand bool
	IsInterrupted  bool
	Compacting     bool
	// FileAge is the time since the transcript was last written.
	FileAge time.Duration
	// CPUPercent is the agent process CPU usage.
	CPUPercent float64
	// ActiveSubagents counts delegated conversations written recently.
	ActiveSubagents int
}

// Infer maps features to a status.
func Infer(f Features, th Thresholds) Status {
	if f.Compacting {
		return Compacting
	}

	s := base(f, th)
	if f.ActiveSubagents > 0 && (s == Waiting || s == Idle) {
		return Processing
	}
	return s
}

// base applies the message rules without the sub-agent override.
func base(f Features, th Thresholds) Status {
	if !f.HasMessage {
		if f.FileAge < th.Streaming {
			return Processing
		}
		return Idle
	}

	if f.Role == "assistant" {
		if f.HasToolUse {
			if f.FileAge < th.ToolActive || f.CPUPercent > th.CPUActive {
				return Processing
			}
			return Waiting
		}
		if f.FileAge < th.Streaming {
			return Processing
		}
		return Idle
	}

	// User messages, including tool results fed back to the agent.
	if f.IsLocalCommand || f.IsInterrupted {
		return Idle
	}
	return Thinking
}
