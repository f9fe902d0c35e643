// Tests for the status transition tracker.
// Covers [Tracker.Observe] change detection and logging, and
// [Tracker.Retain] pruning.
package tracker

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"tools.zach/dev/agentwatch/internal/logger"
	"tools.zach/dev/agentwatch/internal/status"
)

func newTestTracker(buf *bytes.Buffer) *Tracker {
	return New(slog.New(logger.NewHandler(buf, slog.LevelDebug)))
}

func TestObserve(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestTracker(&buf)

	if _, changed := tr.Observe("s1", "app", status.Thinking); changed {
		t.Error("first observation should not be a change")
	}
	if _, changed := tr.Observe("s1", "app", status.Thinking); changed {
		t.Error("same status should not be a change")
	}
	prev, changed := tr.Observe("s1", "app", status.Waiting)
	if !changed || prev != status.Thinking {
		t.Errorf("Observe = (%v, %v), want (thinking, true)", prev, changed)
	}

	out := buf.String()
	if strings.Count(out, "status transition") != 1 {
		t.Fatalf("expected one transition log line, got:\n%s", out)
	}
	for _, want := range []string{"[INFO]", "project=app", "from=thinking", "to=waiting"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRetain(t *testing.T) {
	tr := New(nil)
	tr.Observe("a", "p", status.Idle)
	tr.Observe("b", "p", status.Idle)
	tr.Observe("c", "p", status.Idle)

	removed := tr.Retain(map[string]struct{}{"a": {}, "c": {}})
	if removed != 1 || tr.Len() != 2 {
		t.Errorf("Retain removed %d, Len %d; want 1, 2", removed, tr.Len())
	}
	// A pruned session starts fresh.
	if _, changed := tr.Observe("b", "p", status.Thinking); changed {
		t.Error("pruned session should not report a change")
	}
}
