// Package config provides configuration loading and defaults for agentwatch.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package covers discovery roots, status inference thresholds, git
// enrichment, project links, watching, the snapshot server, and logging,
// with sensible defaults for every field.
package config

//go:generate go run ../../cmd/genconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/agentwatch/internal/atomicfile"
	"tools.zach/dev/agentwatch/internal/migrate"
	"tools.zach/dev/agentwatch/internal/paths"
	"tools.zach/dev/agentwatch/internal/projectpath"
	"tools.zach/dev/agentwatch/internal/status"
	"tools.zach/dev/agentwatch/internal/transcript"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Discovery holds transcript and process discovery settings.
	Discovery DiscoveryConfig `toml:"discovery"`
	// Status holds status inference thresholds.
	Status StatusConfig `toml:"status"`
	// Enrich holds git and GitHub enrichment settings.
	Enrich EnrichConfig `toml:"enrich"`
	// Links holds per-project link file settings.
	Links LinksConfig `toml:"links"`
	// Watch holds rescan trigger settings.
	Watch WatchConfig `toml:"watch"`
	// Serve holds snapshot server settings.
	Serve ServeConfig `toml:"serve"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// DiscoveryConfig holds transcript and process discovery settings.
type DiscoveryConfig struct {
	// ClaudeProjectsDir overrides the transcripts root (default ~/.claude/projects).
	ClaudeProjectsDir string `toml:"claude_projects_dir,omitempty"`
	// OpenCodeDir overrides the OpenCode per-project root.
	OpenCodeDir string `toml:"opencode_dir,omitempty"`
	// OpenCode enables OpenCode session discovery.
	OpenCode bool `toml:"opencode"`
	// Ignore lists glob patterns matched against project paths; matches are skipped.
	Ignore []string `toml:"ignore"`
	// DecodeAnchors are folder names after which a dashed project name is kept whole.
	DecodeAnchors []string `toml:"decode_anchors"`
	// MaxTailLines is how many trailing transcript lines are examined.
	MaxTailLines int `toml:"max_tail_lines"`
	// PreviewChars truncates the last-message preview.
	PreviewChars int `toml:"preview_chars"`
}

// StatusConfig holds status inference thresholds.
type StatusConfig struct {
	// StreamingWindowMS is how recently a text reply must be written to count as streaming.
	StreamingWindowMS int `toml:"streaming_window_ms"`
	// ToolActiveWindowMS is how recently a pending tool call must be written to count as running.
	ToolActiveWindowMS int `toml:"tool_active_window_ms"`
	// CPUActivePercent is the CPU usage above which a pending tool call counts as running.
	CPUActivePercent float64 `toml:"cpu_active_percent"`
	// SubagentWindowSeconds is how recently a sub-agent transcript must be written to count as active.
	SubagentWindowSeconds int `toml:"subagent_window_seconds"`
	// SecondaryFileWindowSeconds is how recently an unassigned transcript must be written to override status.
	SecondaryFileWindowSeconds int `toml:"secondary_file_window_seconds"`
	// ContextWindowTokens is the assumed model context size for the remaining-context percentage.
	ContextWindowTokens int64 `toml:"context_window_tokens"`
	// LocalCommands are slash commands handled without a model turn.
	LocalCommands []string `toml:"local_commands"`
}

// EnrichConfig holds git and GitHub enrichment settings.
type EnrichConfig struct {
	// Enabled turns on git lookups (worktree, remote, ahead/behind).
	Enabled bool `toml:"enabled"`
	// GitHub turns on pull request lookups through the gh CLI.
	GitHub bool `toml:"github"`
	// PRTTLSeconds is how long pull request info is cached.
	PRTTLSeconds int `toml:"pr_ttl_seconds"`
	// AheadBehindTTLSeconds is how long ahead/behind counts are cached.
	AheadBehindTTLSeconds int `toml:"ahead_behind_ttl_seconds"`
	// CommandTimeoutMS bounds each git or gh invocation.
	CommandTimeoutMS int `toml:"command_timeout_ms"`
}

// LinksConfig holds per-project link file settings.
type LinksConfig struct {
	// TTLSeconds is how long a parsed project link file is cached.
	TTLSeconds int `toml:"ttl_seconds"`
}

// WatchConfig holds rescan trigger settings.
type WatchConfig struct {
	// PollIntervalSeconds is the rescan interval when no file events arrive.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// DebounceMS coalesces bursts of file events into one rescan.
	DebounceMS int `toml:"debounce_ms"`
}

// ServeConfig holds snapshot server settings.
type ServeConfig struct {
	// Socket overrides the listen address (unix socket path or Windows pipe name).
	Socket string `toml:"socket,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.Current,
		Discovery: DiscoveryConfig{
			OpenCode:      true,
			Ignore:        []string{},
			DecodeAnchors: append([]string(nil), projectpath.DefaultAnchors...),
			MaxTailLines:  500,
			PreviewChars:  100,
		},
		Status: StatusConfig{
			StreamingWindowMS:          3000,
			ToolActiveWindowMS:         8000,
			CPUActivePercent:           5,
			SubagentWindowSeconds:      30,
			SecondaryFileWindowSeconds: 10,
			ContextWindowTokens:        200_000,
			LocalCommands:              append([]string(nil), transcript.DefaultLocalCommands...),
		},
		Enrich: EnrichConfig{
			Enabled:               true,
			GitHub:                true,
			PRTTLSeconds:          60,
			AheadBehindTTLSeconds: 30,
			CommandTimeoutMS:      2000,
		},
		Links: LinksConfig{
			TTLSeconds: 60,
		},
		Watch: WatchConfig{
			PollIntervalSeconds: 2,
			DebounceMS:          250,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// One ignore pattern is filled in so the generated file shows the syntax.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discovery.Ignore = []string{"**/scratch/**"}
	return cfg
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing, zero, or unreadable.
func PeekVersion(data []byte) int {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return 1
	}
	return migrate.Version(doc)
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	upgraded, from, err := migrate.Config.Upgrade(data, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("migrate config: %w", err)
	}
	migrated := from < migrate.Config.Current
	if migrated {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		data = upgraded
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.Current

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return atomicfile.WriteTOML(path, c, 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
// Every problem found is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level))
	}
	if c.Log.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB))
	}

	if c.Discovery.MaxTailLines <= 0 {
		errs = append(errs, fmt.Errorf("discovery.max_tail_lines must be > 0, got %d", c.Discovery.MaxTailLines))
	}
	if c.Discovery.PreviewChars <= 0 {
		errs = append(errs, fmt.Errorf("discovery.preview_chars must be > 0, got %d", c.Discovery.PreviewChars))
	}
	for _, pattern := range c.Discovery.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("invalid discovery.ignore pattern %q", pattern))
		}
	}

	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("status: %w", err))
	}
	if c.Status.SubagentWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("status.subagent_window_seconds must be > 0, got %d", c.Status.SubagentWindowSeconds))
	}
	if c.Status.SecondaryFileWindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("status.secondary_file_window_seconds must be >= 0, got %d", c.Status.SecondaryFileWindowSeconds))
	}
	if c.Status.ContextWindowTokens <= 0 {
		errs = append(errs, fmt.Errorf("status.context_window_tokens must be > 0, got %d", c.Status.ContextWindowTokens))
	}
	for _, cmd := range c.Status.LocalCommands {
		if !strings.HasPrefix(cmd, "/") {
			errs = append(errs, fmt.Errorf("status.local_commands entry %q must start with /", cmd))
		}
	}

	if c.Enrich.PRTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("enrich.pr_ttl_seconds must be > 0, got %d", c.Enrich.PRTTLSeconds))
	}
	if c.Enrich.AheadBehindTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("enrich.ahead_behind_ttl_seconds must be > 0, got %d", c.Enrich.AheadBehindTTLSeconds))
	}
	if c.Enrich.CommandTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("enrich.command_timeout_ms must be > 0, got %d", c.Enrich.CommandTimeoutMS))
	}

	if c.Links.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("links.ttl_seconds must be > 0, got %d", c.Links.TTLSeconds))
	}

	if c.Watch.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("watch.poll_interval_seconds must be > 0, got %d", c.Watch.PollIntervalSeconds))
	}
	if c.Watch.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce_ms must be >= 0, got %d", c.Watch.DebounceMS))
	}

	return errors.Join(errs...)
}

// ///////////////////////////////////////////////
// Derived Settings
// ///////////////////////////////////////////////

// Thresholds returns the status inference thresholds.
func (c *Config) Thresholds() status.Thresholds {
	return status.Thresholds{
		Streaming:  time.Duration(c.Status.StreamingWindowMS) * time.Millisecond,
		ToolActive: time.Duration(c.Status.ToolActiveWindowMS) * time.Millisecond,
		CPUActive:  c.Status.CPUActivePercent,
	}
}

// TailOptions returns the transcript tail parser options.
func (c *Config) TailOptions() transcript.Options {
	return transcript.Options{
		MaxLines:      c.Discovery.MaxTailLines,
		PreviewRunes:  c.Discovery.PreviewChars,
		LocalCommands: c.Status.LocalCommands,
	}
}

// ClaudeProjectsDir returns the configured transcripts root or the default.
func (c *Config) ClaudeProjectsDir() string {
	if c.Discovery.ClaudeProjectsDir != "" {
		return expandHome(c.Discovery.ClaudeProjectsDir)
	}
	return paths.DefaultClaudeProjects()
}

// OpenCodeDir returns the configured OpenCode root or the default.
func (c *Config) OpenCodeDir() string {
	if c.Discovery.OpenCodeDir != "" {
		return expandHome(c.Discovery.OpenCodeDir)
	}
	return paths.DefaultOpenCodeProjects()
}

// SocketPath returns the serve listen address for dataDir.
func (c *Config) SocketPath(d paths.DataDir) string {
	if c.Serve.Socket != "" {
		return expandHome(c.Serve.Socket)
	}
	return d.Socket()
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts a millisecond setting to a duration.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, rest)
}

// ///////////////////////////////////////////////
// Ignore Helpers
// ///////////////////////////////////////////////

// IsIgnored reports whether projectPath matches any of the configured ignore patterns.
func (c *Config) IsIgnored(projectPath string) bool {
	p := filepath.ToSlash(projectPath)
	for _, pattern := range c.Discovery.Ignore {
		matched, err := doublestar.Match(pattern, p)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
