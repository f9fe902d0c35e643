// Package projectconfig reads and writes the per-project link file
// (.agent-sessions.json) kept in a project root. The file declares links for
// the whole project and, optionally, per session.
package projectconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tools.zach/dev/agentwatch/internal/atomicfile"
	"tools.zach/dev/agentwatch/internal/cache"
	"tools.zach/dev/agentwatch/internal/paths"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Link is a labelled URL attached to a project or session.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// File is the on-disk schema of the link file.
type File struct {
	// Links apply to every session in the project.
	Links []Link `json:"links"`
	// SessionLinks are keyed by session ID.
	SessionLinks map[string][]Link `json:"sessionLinks"`
}

// empty returns a File with non-nil collections so it encodes as [] and {}.
func empty() File {
	return File{Links: []Link{}, SessionLinks: map[string][]Link{}}
}

// Store reads link files through a TTL cache and serializes writes.
type Store struct {
	// mu serializes read-modify-write updates.
	mu    sync.Mutex
	cache *cache.Cache[string, File]
}

// New returns a Store that caches parsed files for ttl.
func New(ttl time.Duration) *Store {
	return &Store{cache: cache.New[string, File](ttl)}
}

// Path returns the link file location for a project root.
func Path(projectPath string) string {
	return filepath.Join(projectPath, paths.ProjectConfigFile)
}

// ///////////////////////////////////////////////
// Reading
// ///////////////////////////////////////////////

// Get returns the link file for projectPath. A missing or malformed file
// yields an empty File.
func (s *Store) Get(projectPath string) File {
	if f, ok := s.cache.Get(projectPath); ok {
		return f
	}
	f := read(projectPath)
	s.cache.Set(projectPath, f)
	return f
}

// ProjectLinks returns the project-wide links.
func (s *Store) ProjectLinks(projectPath string) []Link {
	return s.Get(projectPath).Links
}

// SessionLinks returns the links declared for one session.
func (s *Store) SessionLinks(projectPath, sessionID string) []Link {
	return s.Get(projectPath).SessionLinks[sessionID]
}

// read loads and decodes the link file, falling back to an empty File.
func read(projectPath string) File {
	path := Path(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("cannot read link file", "path", path, "error", err)
		}
		return empty()
	}
	f := empty()
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Debug("ignoring malformed link file", "path", path, "error", err)
		return empty()
	}
	if f.Links == nil {
		f.Links = []Link{}
	}
	if f.SessionLinks == nil {
		f.SessionLinks = map[string][]Link{}
	}
	slog.Debug("loaded link file", "path", path, "links", len(f.Links), "sessions", len(f.SessionLinks))
	return f
}

// ///////////////////////////////////////////////
// Writing
// ///////////////////////////////////////////////

// SetProjectLinks replaces the project-wide links, keeping session links.
func (s *Store) SetProjectLinks(projectPath string, links []Link) error {
	if links == nil {
		links = []Link{}
	}
	return s.update(projectPath, func(f *File) {
		f.Links = links
	})
}

// SetSessionLinks replaces the links for sessionID. An empty list removes
// the session's entry.
func (s *Store) SetSessionLinks(projectPath, sessionID string, links []Link) error {
	return s.update(projectPath, func(f *File) {
		if len(links) == 0 {
			delete(f.SessionLinks, sessionID)
			return
		}
		f.SessionLinks[sessionID] = links
	})
}

// update applies fn to the current file contents, writes the result, and
// invalidates the cached copy.
func (s *Store) update(projectPath string, fn func(*File)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := read(projectPath)
	fn(&f)
	if err := atomicfile.WriteJSON(Path(projectPath), f, 0o644); err != nil {
		return fmt.Errorf("writing link file: %w", err)
	}
	s.cache.Invalidate(projectPath)
	slog.Debug("wrote link file", "path", Path(projectPath))
	return nil
}

// Cleanup drops cached files for projects not in active.
func (s *Store) Cleanup(active map[string]struct{}) int {
	return s.cache.RetainKeys(active)
}
