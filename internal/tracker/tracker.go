// Package tracker remembers each session's last status so that changes can
// be logged between scans. It never influences inference.
package tracker

import (
	"log/slog"
	"sync"

	"tools.zach/dev/agentwatch/internal/status"
)

// Tracker records the last observed status per session ID.
type Tracker struct {
	mu   sync.Mutex
	last map[string]status.Status
	log  *slog.Logger
}

// New returns an empty Tracker that logs transitions to logger.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{last: make(map[string]status.Status), log: logger}
}

// Observe stores s for id and reports the previous status. changed is true
// only when a previous status existed and differs from s.
func (t *Tracker) Observe(id, project string, s status.Status) (prev status.Status, changed bool) {
	t.mu.Lock()
	prev, seen := t.last[id]
	t.last[id] = s
	t.mu.Unlock()

	if !seen || prev == s {
		return prev, false
	}
	t.log.Info("status transition", "project", project, "session", id, "from", prev, "to", s)
	return prev, true
}

// Retain drops sessions whose IDs are not in active and returns how many
// were removed.
func (t *Tracker) Retain(active map[string]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id := range t.last {
		if _, ok := active[id]; !ok {
			delete(t.last, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
