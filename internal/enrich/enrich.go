// Package enrich decorates sessions with repository metadata gathered from
// the git and gh command-line tools: worktree detection, the GitHub remote,
// pull request and CI state, and commits ahead of or behind upstream.
//
// Every lookup is cached. Failures are cached too, so an unavailable tool or
// a repository without a remote costs one command per TTL rather than one
// per scan.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"tools.zach/dev/agentwatch/internal/cache"
)

// ///////////////////////////////////////////////
// Command Runner
// ///////////////////////////////////////////////

// Runner executes an external command in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, bounding each one by Timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// Run implements [Runner].
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("running %s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("running %s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// CIStatus is the rolled-up state of a pull request's checks.
type CIStatus string

const (
	CISuccess CIStatus = "success"
	CIFailure CIStatus = "failure"
	CIPending CIStatus = "pending"
	CIUnknown CIStatus = "unknown"
)

// PRInfo describes the pull request for a branch.
type PRInfo struct {
	URL      string   `json:"url"`
	Number   int      `json:"number"`
	State    string   `json:"state"`
	CIStatus CIStatus `json:"ciStatus,omitempty"`
}

// AheadBehind counts commits on HEAD not upstream and upstream not on HEAD.
type AheadBehind struct {
	Ahead  int
	Behind int
}

// Info is everything known about one project and branch.
type Info struct {
	IsWorktree  bool
	GitHubURL   string
	RepoName    string
	PR          *PRInfo
	AheadBehind *AheadBehind
}

// Options controls which lookups run and how long results are cached.
type Options struct {
	// Git enables worktree, remote, and ahead/behind lookups.
	Git bool
	// GitHub enables pull request lookups through gh.
	GitHub bool
	// PRTTL is how long pull request info is cached.
	PRTTL time.Duration
	// AheadBehindTTL is how long ahead/behind counts are cached.
	AheadBehindTTL time.Duration
}

// DefaultOptions enables every lookup with the standard cache lifetimes.
func DefaultOptions() Options {
	return Options{
		Git:            true,
		GitHub:         true,
		PRTTL:          60 * time.Second,
		AheadBehindTTL: 30 * time.Second,
	}
}

// Enricher performs cached repository lookups. It is safe for concurrent use.
type Enricher struct {
	run  Runner
	opts Options

	worktree    *cache.Cache[string, bool]
	github      *cache.Cache[string, string]
	pr          *cache.Cache[string, *PRInfo]
	aheadBehind *cache.Cache[string, *AheadBehind]

	// ghMu guards the gh availability result. It is recorded only once a
	// check finished with its context still live.
	ghMu        sync.Mutex
	ghChecked   bool
	ghAvailable bool

	group singleflight.Group
}

// New returns an Enricher that runs commands through run.
func New(run Runner, opts Options) *Enricher {
	return &Enricher{
		run:         run,
		opts:        opts,
		worktree:    cache.New[string, bool](0),
		github:      cache.New[string, string](0),
		pr:          cache.New[string, *PRInfo](opts.PRTTL),
		aheadBehind: cache.New[string, *AheadBehind](opts.AheadBehindTTL),
	}
}

// ///////////////////////////////////////////////
// Lookup
// ///////////////////////////////////////////////

// Lookup gathers repository metadata for path checked out at branch.
// Branch-dependent fields are skipped for an empty or detached branch.
func (e *Enricher) Lookup(ctx context.Context, path, branch string) Info {
	var info Info
	if !e.opts.Git || path == "" {
		return info
	}
	info.IsWorktree = e.IsWorktree(ctx, path)
	info.GitHubURL = e.GitHubURL(ctx, path)
	info.RepoName = RepoName(info.GitHubURL)

	if branch == "" || branch == "HEAD" {
		return info
	}
	if ab, ok := e.AheadBehind(ctx, path, branch); ok {
		info.AheadBehind = &ab
	}
	if e.opts.GitHub && info.GitHubURL != "" {
		info.PR = e.PR(ctx, path, branch)
	}
	return info
}

// IsWorktree reports whether path is a linked worktree rather than the main
// checkout. The answer is cached for the life of the Enricher.
func (e *Enricher) IsWorktree(ctx context.Context, path string) bool {
	if v, ok := e.worktree.Get(path); ok {
		return v
	}
	v, _, _ := e.group.Do("worktree:"+path, func() (any, error) {
		gitDir, err := e.git(ctx, path, "rev-parse", "--git-dir")
		if err != nil {
			e.worktree.Set(path, false)
			return false, nil
		}
		commonDir, err := e.git(ctx, path, "rev-parse", "--git-common-dir")
		wt := err == nil && gitDir != commonDir
		e.worktree.Set(path, wt)
		return wt, nil
	})
	return v.(bool)
}

// GitHubURL returns the normalized https URL of the origin remote, or ""
// when there is none or it is not hosted on GitHub. Cached permanently.
func (e *Enricher) GitHubURL(ctx context.Context, path string) string {
	if v, ok := e.github.Get(path); ok {
		return v
	}
	v, _, _ := e.group.Do("github:"+path, func() (any, error) {
		remote, err := e.git(ctx, path, "remote", "get-url", "origin")
		url := ""
		if err == nil {
			url, _ = NormalizeGitHubURL(remote)
		}
		e.github.Set(path, url)
		return url, nil
	})
	return v.(string)
}

// AheadBehind returns commit counts relative to the branch's upstream,
// falling back to origin/<branch> when no upstream is configured.
func (e *Enricher) AheadBehind(ctx context.Context, path, branch string) (AheadBehind, bool) {
	key := branchKey(path, branch)
	if v, ok := e.aheadBehind.Get(key); ok {
		if v == nil {
			return AheadBehind{}, false
		}
		return *v, true
	}
	v, _, _ := e.group.Do("ab:"+key, func() (any, error) {
		var ab *AheadBehind
		for _, rng := range []string{"HEAD...@{upstream}", "HEAD...origin/" + branch} {
			out, err := e.git(ctx, path, "rev-list", "--left-right", "--count", rng)
			if err != nil {
				continue
			}
			if parsed, ok := ParseAheadBehind(out); ok {
				ab = &parsed
				break
			}
		}
		e.aheadBehind.Set(key, ab)
		return ab, nil
	})
	ab := v.(*AheadBehind)
	if ab == nil {
		return AheadBehind{}, false
	}
	return *ab, true
}

// PR returns the pull request for branch, or nil when there is none or gh
// is unavailable.
func (e *Enricher) PR(ctx context.Context, path, branch string) *PRInfo {
	if !e.ghReady(ctx, path) {
		return nil
	}
	key := branchKey(path, branch)
	if v, ok := e.pr.Get(key); ok {
		return v
	}
	v, _, _ := e.group.Do("pr:"+key, func() (any, error) {
		out, err := e.run.Run(ctx, path, "gh", "pr", "view", branch, "--json", "url,number,state,statusCheckRollup")
		var pr *PRInfo
		if err != nil {
			slog.Debug("gh pr view failed", "path", path, "branch", branch, "error", err)
		} else {
			pr, err = ParsePR(out)
			if err != nil {
				slog.Debug("unreadable gh pr output", "path", path, "error", err)
			}
		}
		e.pr.Set(key, pr)
		return pr, nil
	})
	return v.(*PRInfo)
}

// ghReady reports whether the gh CLI can be run. The answer is kept for the
// life of the Enricher unless the check was cut short by ctx, in which case
// the next call checks again.
func (e *Enricher) ghReady(ctx context.Context, dir string) bool {
	e.ghMu.Lock()
	checked, ok := e.ghChecked, e.ghAvailable
	e.ghMu.Unlock()
	if checked {
		return ok
	}

	v, _, _ := e.group.Do("gh:version", func() (any, error) {
		_, err := e.run.Run(ctx, dir, "gh", "--version")
		if ctx.Err() != nil {
			slog.Debug("gh check interrupted, will retry", "error", ctx.Err())
			return false, nil
		}
		e.ghMu.Lock()
		e.ghChecked, e.ghAvailable = true, err == nil
		e.ghMu.Unlock()
		if err != nil {
			slog.Debug("gh unavailable, pull request lookups disabled", "error", err)
		}
		return err == nil, nil
	})
	return v.(bool)
}

// git runs a git subcommand and returns its trimmed output.
func (e *Enricher) git(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := e.run.Run(ctx, dir, "git", args...)
	if err != nil {
		slog.Debug("git command failed", "dir", dir, "args", strings.Join(args, " "), "error", err)
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ///////////////////////////////////////////////
// Cleanup
// ///////////////////////////////////////////////

// Cleanup drops cached entries for projects not in active and returns how
// many were removed.
func (e *Enricher) Cleanup(active map[string]struct{}) int {
	removed := e.worktree.RetainKeys(active)
	removed += e.github.RetainKeys(active)
	keepBranch := func(k string) bool {
		path, _, ok := strings.Cut(k, "\x00")
		if !ok {
			return false
		}
		_, keep := active[path]
		return keep
	}
	removed += e.pr.Retain(keepBranch)
	removed += e.aheadBehind.Retain(keepBranch)
	return removed
}

// branchKey joins path and branch with a byte that cannot occur in either.
func branchKey(path, branch string) string {
	return path + "\x00" + branch
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// githubRemoteRe extracts owner and repo from GitHub remote URLs in https,
// scp-like SSH, and ssh:// form.
var githubRemoteRe = regexp.MustCompile(`^(?:https://|ssh://git@|git@)github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)

// NormalizeGitHubURL converts a GitHub remote to https://github.com/owner/repo.
func NormalizeGitHubURL(remote string) (string, bool) {
	m := githubRemoteRe.FindStringSubmatch(strings.TrimSpace(remote))
	if len(m) != 3 || m[2] == "" {
		return "", false
	}
	return "https://github.com/" + m[1] + "/" + m[2], true
}

// RepoName returns "owner/repo" for a normalized GitHub URL, or "".
func RepoName(url string) string {
	rest, ok := strings.CutPrefix(url, "https://github.com/")
	if !ok || !strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// ParseAheadBehind reads the "<ahead>\t<behind>" output of
// git rev-list --left-right --count.
func ParseAheadBehind(out string) (AheadBehind, bool) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return AheadBehind{}, false
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return AheadBehind{}, false
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return AheadBehind{}, false
	}
	return AheadBehind{Ahead: ahead, Behind: behind}, true
}

// Check is one entry of a pull request's statusCheckRollup. Check runs
// report Status and Conclusion; commit statuses report State.
type Check struct {
	Conclusion string `json:"conclusion"`
	State      string `json:"state"`
	Status     string `json:"status"`
}

// ghPR is the JSON shape printed by gh pr view.
type ghPR struct {
	URL               string  `json:"url"`
	Number            int     `json:"number"`
	State             string  `json:"state"`
	StatusCheckRollup []Check `json:"statusCheckRollup"`
}

// ParsePR decodes gh pr view JSON output. URL and number are required.
func ParsePR(data []byte) (*PRInfo, error) {
	var raw ghPR
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding pr view: %w", err)
	}
	if raw.URL == "" || raw.Number == 0 {
		return nil, fmt.Errorf("pr view missing url or number")
	}
	state := raw.State
	if state == "" {
		state = "UNKNOWN"
	}
	return &PRInfo{
		URL:      raw.URL,
		Number:   raw.Number,
		State:    state,
		CIStatus: ClassifyChecks(raw.StatusCheckRollup),
	}, nil
}

// ClassifyChecks rolls individual check results up into one CIStatus.
// Any failure wins, then anything still running, then all-passed.
func ClassifyChecks(checks []Check) CIStatus {
	if len(checks) == 0 {
		return CIUnknown
	}
	results := make([]string, len(checks))
	for i, c := range checks {
		switch {
		case c.Conclusion != "":
			results[i] = strings.ToUpper(c.Conclusion)
		case c.State != "":
			results[i] = strings.ToUpper(c.State)
		default:
			results[i] = strings.ToUpper(c.Status)
		}
	}

	for _, r := range results {
		switch r {
		case "FAILURE", "ERROR", "TIMED_OUT":
			return CIFailure
		}
	}
	for _, r := range results {
		switch r {
		case "IN_PROGRESS", "QUEUED", "PENDING", "WAITING":
			return CIPending
		}
	}
	for _, r := range results {
		switch r {
		case "SUCCESS", "NEUTRAL", "SKIPPED", "CANCELLED", "COMPLETED":
		default:
			return CIUnknown
		}
	}
	return CISuccess
}
