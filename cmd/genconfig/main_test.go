// Tests for the genconfig tool covering section path helpers, omitted-field
// injection, and the rendered config.default.toml.
package main

import (
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/agentwatch/internal/config"
)

// ///////////////////////////////////////////////
// parseSectionPath Tests
// ///////////////////////////////////////////////

func TestParseSectionPath(t *testing.T) {
	tests := []struct {
		name    string
		section string
		want    []string
	}{
		{"single segment", "display", []string{"display"}},
		{"two segments", "display.assets", []string{"display", "assets"}},
		{"three segments", "display.format.cost", []string{"display", "format", "cost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSectionPath(tt.section)
			if len(got) != len(tt.want) {
				t.Fatalf("parseSectionPath(%q) returned %d segments, want %d", tt.section, len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseSectionPath(%q)[%d] = %q, want %q", tt.section, i, got[i], tt.want[i])
				}
			}
		})
	}
}

// ///////////////////////////////////////////////
// sectionName Tests
// ///////////////////////////////////////////////

func TestSectionName(t *testing.T) {
	tests := []struct {
		name    string
		section string
		want    string
	}{
		{"single segment", "display", "Display"},
		{"last of two", "display.assets", "Assets"},
		{"last of three", "display.format.cost", "Cost"},
		{"already capitalized", "Display", "Display"},
		{"single char", "a", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sectionName(tt.section)
			if got != tt.want {
				t.Errorf("sectionName(%q) = %q, want %q", tt.section, got, tt.want)
			}
		})
	}
}

func TestSectionNameEmpty(t *testing.T) {
	// A trailing dot produces an empty last segment.
	got := sectionName("")
	if got != "" {
		t.Errorf("sectionName(%q) = %q, want empty string", "", got)
	}
}

// ///////////////////////////////////////////////
// injectOmitted Tests
// ///////////////////////////////////////////////

func TestInjectOmittedNoSection(t *testing.T) {
	// When sectionStack is empty, injectOmitted should be a no-op.
	var out []string
	emitted := map[string]bool{}
	injectOmitted(&out, config.ConfigDocs, nil, emitted)
	if len(out) != 0 {
		t.Errorf("injectOmitted with nil sectionStack produced %d lines, want 0", len(out))
	}
}

func TestInjectOmittedSection(t *testing.T) {
	docs := map[string]config.FieldDoc{
		"serve.socket":     {Comment: "Listen address", Alternatives: []string{`socket = "/tmp/x.sock"`}},
		"serve.nested.key": {Comment: "deeper"},
		"log.level":        {Comment: "other section"},
	}
	var out []string
	emitted := map[string]bool{}
	injectOmitted(&out, docs, []string{"serve"}, emitted)

	want := []string{"", "# Listen address", `# socket = "/tmp/x.sock"`}
	if strings.Join(out, "\n") != strings.Join(want, "\n") {
		t.Errorf("injectOmitted = %q, want %q", out, want)
	}
	if !emitted["serve.socket"] {
		t.Error("expected serve.socket to be marked emitted")
	}
}

// ///////////////////////////////////////////////
// render Tests
// ///////////////////////////////////////////////

func TestRenderDecodesToExample(t *testing.T) {
	out, err := render(config.ExampleConfig(), config.ConfigDocs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"# Agentwatch Configuration",
		"# ///// Status /////",
		"[discovery]",
		"# Minimum log level.",
		`# level = "debug"`,
		`# socket = "/tmp/agentwatch.sock"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered config missing %q", want)
		}
	}

	got := config.DefaultConfig()
	if _, err := toml.Decode(out, got); err != nil {
		t.Fatalf("rendered config does not decode: %v", err)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("rendered config invalid: %v", err)
	}
	if got.Status.ToolActiveWindowMS != 8000 || len(got.Discovery.Ignore) != 1 {
		t.Errorf("rendered values differ from example: %+v", got)
	}
}
