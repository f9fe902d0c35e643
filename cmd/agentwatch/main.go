// Package main implements the agentwatch command, which discovers running
// coding-agent sessions, infers what each one is doing, and reports them as
// a table, a JSON snapshot, or over a local socket.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"tools.zach/dev/agentwatch/internal/config"
	"tools.zach/dev/agentwatch/internal/engine"
	"tools.zach/dev/agentwatch/internal/logger"
	"tools.zach/dev/agentwatch/internal/paths"
	"tools.zach/dev/agentwatch/internal/process"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time with -ldflags "-X main.version=0.1.0".
//
// When ldflags are not set, resolveVersion falls back to the VCS info the Go
// toolchain embeds.
var version = "dev"

// resolveVersion returns the build version string, or "dev+<hash>" built
// from embedded VCS settings when no version was injected.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Application State
// ///////////////////////////////////////////////

// app carries what every subcommand needs once the root command has run its
// persistent setup.
type app struct {
	dataDir string
	verbose bool

	dirs   paths.DataDir
	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
	prev   *slog.Logger

	// newSource builds the process table source; tests replace it.
	newSource func(process.WantCwdFunc) process.Source
}

// setup loads the config and opens the log file. Commands that must work
// with a broken config (config path, config init) skip it.
func (a *app) setup(cmd *cobra.Command) error {
	a.dirs = paths.DataDir{Root: a.dataDir}
	if err := os.MkdirAll(a.dirs.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := config.Load(a.dirs.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	opts := logger.Options{
		Path:      a.dirs.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
	}
	if a.verbose {
		opts.Tee = cmd.ErrOrStderr()
		opts.Level = min(opts.Level, logger.LevelDebug)
	}
	log, closer, err := logger.NewLogger(opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log, a.closer = log, closer
	a.prev = slog.Default()
	slog.SetDefault(log)
	return nil
}

// close restores the previous default logger and closes the log file.
func (a *app) close() {
	if a.prev != nil {
		slog.SetDefault(a.prev)
		a.prev = nil
	}
	if a.closer != nil {
		_ = a.closer.Close()
		a.closer = nil
	}
}

// engine builds a scan engine from the loaded config.
func (a *app) engine() *engine.Engine {
	opts := engine.FromConfig(a.cfg)
	return engine.New(opts, a.newSource(opts.Filter.WantCwd), engine.WithLogger(a.log))
}

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

// skipSetup marks commands that run without loading config or logging.
const skipSetup = "skip-setup"

// newRootCmd builds the command tree around a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           paths.BinaryName,
		Short:         "Discover coding-agent sessions and infer their status",
		Long:          "agentwatch finds running Claude and OpenCode sessions, pairs them with their transcripts, and reports whether each is thinking, processing, waiting for you, or idle.",
		Version:       resolveVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetup] != "" {
				a.dirs = paths.DataDir{Root: a.dataDir}
				return nil
			}
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", paths.DefaultDataDir(), "Data directory for config, logs, and the serve socket")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Also write debug logs to stderr")

	root.AddCommand(
		newListCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newStatusCmd(a),
		newLinksCmd(a),
		newLogsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

// run executes the command line in args and releases the log file whether
// or not the command succeeded.
func run(a *app, args []string, stdout, stderr io.Writer) error {
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func main() {
	a := &app{newSource: process.NewSource}
	if err := run(a, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
