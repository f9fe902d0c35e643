// Tests for the migrate package.
// Covers step ordering, skipping steps a document already has, error
// propagation, duplicate detection, version stamping, and the config v2
// seconds-to-milliseconds step.
package migrate

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// appendStep records its version under the "trail" key.
func appendStep(to int) Step {
	return Step{To: to, Note: "trail", Apply: func(doc map[string]any) error {
		trail, _ := doc["trail"].(string)
		doc["trail"] = trail + string(rune('0'+to))
		return nil
	}}
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	return doc
}

// ///////////////////////////////////////////////
// Schema Tests
// ///////////////////////////////////////////////

func TestNewSchemaCurrent(t *testing.T) {
	if got := NewSchema().Current; got != 1 {
		t.Errorf("empty schema Current = %d, want 1", got)
	}
	if got := NewSchema(appendStep(3), appendStep(2)).Current; got != 3 {
		t.Errorf("Current = %d, want 3", got)
	}
}

func TestNewSchemaDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for duplicate step version")
		}
	}()
	NewSchema(appendStep(2), appendStep(2))
}

func TestVersion(t *testing.T) {
	tests := []struct {
		doc  map[string]any
		want int
	}{
		{map[string]any{"version": int64(4)}, 4},
		{map[string]any{"version": int64(0)}, 1},
		{map[string]any{"version": "2"}, 1},
		{map[string]any{}, 1},
	}
	for _, tt := range tests {
		if got := Version(tt.doc); got != tt.want {
			t.Errorf("Version(%v) = %d, want %d", tt.doc, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Upgrade Tests
// ///////////////////////////////////////////////

func TestUpgradeAppliesInOrder(t *testing.T) {
	s := NewSchema(appendStep(3), appendStep(2), appendStep(4))
	out, from, err := s.Upgrade([]byte("name = \"x\"\n"), quiet)
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if from != 1 {
		t.Errorf("from = %d, want 1", from)
	}
	doc := decode(t, out)
	if doc["trail"] != "234" || doc["version"] != int64(4) || doc["name"] != "x" {
		t.Errorf("doc = %v", doc)
	}
}

func TestUpgradeSkipsAppliedSteps(t *testing.T) {
	s := NewSchema(appendStep(2), appendStep(3))
	out, from, err := s.Upgrade([]byte("version = 2\n"), quiet)
	if err != nil {
		t.Fatal(err)
	}
	if from != 2 {
		t.Errorf("from = %d, want 2", from)
	}
	if doc := decode(t, out); doc["trail"] != "3" {
		t.Errorf("trail = %v, want 3", doc["trail"])
	}
}

func TestUpgradeCurrentUnchanged(t *testing.T) {
	in := []byte("# keep me\nversion = 2\n")
	out, from, err := NewSchema(appendStep(2)).Upgrade(in, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if from != 2 || string(out) != string(in) {
		t.Errorf("from = %d, out = %q; want the input back", from, out)
	}
}

func TestUpgradeStepError(t *testing.T) {
	failing := Step{To: 2, Apply: func(map[string]any) error { return io.ErrUnexpectedEOF }}
	_, from, err := NewSchema(failing).Upgrade([]byte("a = 1\n"), quiet)
	if err == nil || !strings.Contains(err.Error(), "migration to v2") {
		t.Fatalf("err = %v, want migration to v2", err)
	}
	if from != 1 {
		t.Errorf("from = %d, want 1", from)
	}
}

func TestUpgradeRejectsBadTOML(t *testing.T) {
	if _, _, err := Config.Upgrade([]byte("not = [toml"), quiet); err == nil {
		t.Error("expected decode error")
	}
}

// ///////////////////////////////////////////////
// Config v2
// ///////////////////////////////////////////////

func TestConfigV2ConvertsSeconds(t *testing.T) {
	v1 := []byte(`version = 1

[status]
streaming_window_seconds = 2
tool_active_window_seconds = 0.5
cpu_active_percent = 7.5

[log]
level = "debug"
`)
	out, from, err := Config.Upgrade(v1, quiet)
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if from != 1 {
		t.Fatalf("from = %d, want 1", from)
	}

	var got struct {
		Version int `toml:"version"`
		Status  struct {
			StreamingMS  int64   `toml:"streaming_window_ms"`
			ToolActiveMS int64   `toml:"tool_active_window_ms"`
			StreamingSec *int64  `toml:"streaming_window_seconds"`
			CPU          float64 `toml:"cpu_active_percent"`
		} `toml:"status"`
		Log struct {
			Level string `toml:"level"`
		} `toml:"log"`
	}
	if _, err := toml.Decode(string(out), &got); err != nil {
		t.Fatalf("decode migrated config: %v\n%s", err, out)
	}
	if got.Version != Config.Current || got.Status.StreamingMS != 2000 || got.Status.ToolActiveMS != 500 {
		t.Errorf("unexpected migrated values: %+v", got)
	}
	if got.Status.StreamingSec != nil {
		t.Error("old seconds key should be removed")
	}
	if got.Status.CPU != 7.5 || got.Log.Level != "debug" {
		t.Errorf("unrelated keys changed: %+v", got)
	}
}

func TestConfigV2WithoutStatus(t *testing.T) {
	out, _, err := Config.Upgrade([]byte("[log]\nlevel = \"info\"\n"), quiet)
	if err != nil {
		t.Fatal(err)
	}
	if doc := decode(t, out); doc["version"] != int64(2) {
		t.Errorf("version = %v, want 2", doc["version"])
	}
}

func TestConfigV2RejectsNonNumeric(t *testing.T) {
	_, _, err := Config.Upgrade([]byte("[status]\nstreaming_window_seconds = \"fast\"\n"), quiet)
	if err == nil {
		t.Fatal("expected error for non-numeric window")
	}
}
