// Package watch signals when agent transcripts change so long-running
// commands can rescan promptly instead of waiting for their next tick.
//
// The transcripts root holds one directory per project. fsnotify is not
// recursive, so the root and each project directory are watched, and new
// project directories are added as they appear. When fsnotify is
// unavailable or fails, the watcher falls back to polling modification times.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"tools.zach/dev/agentwatch/internal/logger"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Options controls polling and event coalescing.
type Options struct {
	// PollInterval is the time between stat sweeps in polling mode.
	PollInterval time.Duration
	// Debounce delays a notification so bursts of writes produce one signal.
	Debounce time.Duration
}

// DefaultOptions returns the standard poll interval and debounce.
func DefaultOptions() Options {
	return Options{PollInterval: 2 * time.Second, Debounce: 250 * time.Millisecond}
}

// Watcher monitors a transcripts root for transcript writes.
type Watcher struct {
	// root is the transcripts directory being monitored.
	root string
	// opts holds the poll interval and debounce.
	opts Options
	// events delivers a signal each time a transcript changes.
	// The channel is buffered to 1 so back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to signal goroutines to exit.
	done chan struct{}
	// fsw is the underlying fsnotify watcher; nil when polling.
	fsw *fsnotify.Watcher
	// fswMu guards fsw against Close racing the fallback switch.
	fswMu sync.Mutex
	// once ensures [Watcher.Close] is idempotent.
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling atomic.Bool
}

// New creates a Watcher for the transcripts root. A missing root is not an
// error: the watcher polls until it appears.
func New(root string, opts Options) (*Watcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	w := &Watcher{
		root:   root,
		opts:   opts,
		events: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		w.startPolling()
		return w, nil
	}

	if err := fsw.Add(root); err != nil {
		slog.Info("cannot watch transcripts root, falling back to polling", "path", root, "error", err)
		fsw.Close()
		w.startPolling()
		return w, nil
	}
	w.fsw = fsw
	w.addProjectDirs()

	go w.watch(fsw)
	return w, nil
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when a transcript changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.fswMu.Lock()
		defer w.fswMu.Unlock()
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
			w.fsw = nil
		}
	})
	return err
}

// addProjectDirs watches every existing project directory under root.
func (w *Watcher) addProjectDirs() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addDir(filepath.Join(w.root, e.Name()))
		}
	}
}

// addDir adds dir to the fsnotify watch list.
func (w *Watcher) addDir(dir string) {
	w.fswMu.Lock()
	defer w.fswMu.Unlock()
	if w.fsw == nil {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		slog.Debug("cannot watch project directory", "path", dir, "error", err)
	}
}

// isTranscript reports whether name is a JSONL transcript.
func isTranscript(name string) bool {
	return strings.HasSuffix(name, ".jsonl")
}

// watch loops over fsnotify events, forwarding transcript writes to the
// events channel after the debounce. If fsnotify reports an error, watch
// closes the native watcher and falls back to polling.
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	var pending <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case <-pending:
			pending = nil
			w.notify()
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.root) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addDir(event.Name)
					continue
				}
			}
			if !isTranscript(event.Name) {
				continue
			}
			logger.Trace(slog.Default(), "transcript changed", "path", event.Name, "op", event.Op.String())
			if w.opts.Debounce <= 0 {
				w.notify()
			} else if pending == nil {
				pending = time.After(w.opts.Debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.notify()
				continue
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			w.fswMu.Lock()
			if w.fsw != nil {
				w.fsw.Close()
				w.fsw = nil
			}
			w.fswMu.Unlock()
			w.startPolling()
			return
		}
	}
}

// startPolling marks the watcher as polling and starts the poll loop.
func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go w.poll()
}

// poll periodically scans the project directories and sends a notification
// when the newest transcript modification time advances.
func (w *Watcher) poll() {
	lastMod := latestTranscriptMod(w.root)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			mod := latestTranscriptMod(w.root)
			if mod.After(lastMod) {
				lastMod = mod
				w.notify()
			}
		}
	}
}

// latestTranscriptMod returns the most recent modification time among
// transcripts one level below root.
func latestTranscriptMod(root string) time.Time {
	var latest time.Time
	projects, err := os.ReadDir(root)
	if err != nil {
		return latest
	}
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, p.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !isTranscript(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
	}
	return latest
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op, coalescing rapid successive changes.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
