// Package migrate upgrades versioned TOML documents one schema step at a
// time. Each step edits the decoded document in place, so steps only touch
// the keys they rename and everything else round-trips untouched.
package migrate

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Step upgrades a document from version To-1 to To.
type Step struct {
	// To is the schema version the step produces.
	To int
	// Note is logged when the step runs.
	Note string
	// Apply edits the decoded document.
	Apply func(doc map[string]any) error
}

// Schema is the ordered set of steps for one kind of document.
type Schema struct {
	// Current is the version every document is upgraded to.
	Current int

	steps []Step
}

// NewSchema returns a schema whose current version is the highest step
// target, or 1 when there are no steps. It panics on duplicate targets.
func NewSchema(steps ...Step) *Schema {
	sorted := append([]Step(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].To < sorted[j].To })

	s := &Schema{Current: 1, steps: sorted}
	for i, st := range sorted {
		if i > 0 && sorted[i-1].To == st.To {
			panic(fmt.Sprintf("migrate: two steps produce version %d", st.To))
		}
		s.Current = max(s.Current, st.To)
	}
	return s
}

// ///////////////////////////////////////////////
// Upgrading
// ///////////////////////////////////////////////

// Version returns the document's version key. Documents written before
// versioning, or with an unreadable key, count as version 1.
func Version(doc map[string]any) int {
	if v, ok := doc["version"].(int64); ok && v > 0 {
		return int(v)
	}
	return 1
}

// Upgrade decodes data, applies every step newer than its version, and
// re-encodes it stamped with [Schema.Current]. It returns the version the
// document started at; when that is already current, data comes back as is.
func (s *Schema) Upgrade(data []byte, log *slog.Logger) ([]byte, int, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode document: %w", err)
	}
	from := Version(doc)
	if from >= s.Current {
		return data, from, nil
	}
	if log == nil {
		log = slog.Default()
	}

	for _, st := range s.steps {
		if st.To <= from {
			continue
		}
		log.Info("applying migration", "version", st.To, "note", st.Note)
		if err := st.Apply(doc); err != nil {
			return nil, from, fmt.Errorf("migration to v%d: %w", st.To, err)
		}
	}
	doc["version"] = int64(s.Current)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, from, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), from, nil
}
