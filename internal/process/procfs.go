package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// procfs Source
// ///////////////////////////////////////////////

// clockTicks is USER_HZ, the unit of the time fields in /proc/<pid>/stat.
// It is 100 on every mainstream Linux architecture.
const clockTicks = 100

// cpuSample is the cumulative CPU time of a process at a point in time.
type cpuSample struct {
	ticks uint64
	at    time.Time
	// startTicks is the kernel start time, which is fixed for the life of
	// the process and so identifies PID reuse.
	startTicks uint64
}

// Procfs reads the process table from a procfs mount. It keeps the previous
// CPU sample per PID so that CPUPercent reflects usage since the last
// snapshot rather than over the process lifetime.
type Procfs struct {
	// root is the procfs mount point, normally "/proc".
	root string
	// wantCwd limits cwd resolution to interesting processes; nil means all.
	wantCwd WantCwdFunc
	// bootTime returns the system boot time.
	bootTime func() (time.Time, error)
	// pageSize is the memory page size used to convert rss pages to bytes.
	pageSize uint64
	// now returns the current time. Overridden in tests.
	now func() time.Time

	mu   sync.Mutex
	prev map[int]cpuSample
}

// NewProcfs creates a procfs-backed source rooted at root.
func NewProcfs(root string, wantCwd WantCwdFunc, bootTime func() (time.Time, error), pageSize int) *Procfs {
	return &Procfs{
		root:     root,
		wantCwd:  wantCwd,
		bootTime: bootTime,
		pageSize: uint64(pageSize),
		now:      time.Now,
		prev:     make(map[int]cpuSample),
	}
}

// Snapshot reads every numeric entry under the procfs root. Processes that
// exit mid-scan are skipped silently.
func (p *Procfs) Snapshot(ctx context.Context) (Table, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("read procfs: %w", err)
	}

	boot, err := p.bootTime()
	if err != nil {
		return nil, fmt.Errorf("read boot time: %w", err)
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	table := make(Table, len(entries))
	seen := make(map[int]cpuSample, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pid, convErr := strconv.Atoi(e.Name())
		if convErr != nil || !e.IsDir() {
			continue
		}
		rec, st, readErr := p.readProcess(pid, boot)
		if readErr != nil {
			continue
		}

		sample := cpuSample{ticks: st.utime + st.stime, at: now, startTicks: st.startTicks}
		rec.CPUPercent = p.cpuPercent(pid, sample, rec.StartTime, now)
		seen[pid] = sample

		if p.wantCwd == nil || p.wantCwd(rec) {
			if cwd, linkErr := os.Readlink(filepath.Join(p.root, e.Name(), "cwd")); linkErr == nil {
				rec.Cwd = cwd
			} else {
				slog.Debug("cwd not readable", "pid", pid, "error", linkErr)
			}
		}
		table[pid] = rec
	}
	p.prev = seen
	return table, nil
}

// cpuPercent returns usage since the previous sample of the same process, or
// the lifetime average when this is the first sighting (or the PID was reused).
func (p *Procfs) cpuPercent(pid int, cur cpuSample, start int64, now time.Time) float64 {
	if prev, ok := p.prev[pid]; ok && prev.startTicks == cur.startTicks && cur.ticks >= prev.ticks {
		elapsed := cur.at.Sub(prev.at).Seconds()
		if elapsed > 0 {
			return float64(cur.ticks-prev.ticks) / clockTicks / elapsed * 100
		}
	}
	alive := now.Sub(time.Unix(start, 0)).Seconds()
	if alive <= 0 {
		return 0
	}
	return float64(cur.ticks) / clockTicks / alive * 100
}

// readProcess parses stat and cmdline for pid. It returns the record and the
// raw stat fields it was built from.
func (p *Procfs) readProcess(pid int, boot time.Time) (Record, statFields, error) {
	dir := filepath.Join(p.root, strconv.Itoa(pid))
	raw, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return Record{}, statFields{}, err
	}
	st, err := parseStat(string(raw))
	if err != nil {
		return Record{}, statFields{}, fmt.Errorf("parse stat for %d: %w", pid, err)
	}

	rec := Record{
		PID:         pid,
		PPID:        st.ppid,
		Name:        st.comm,
		MemoryBytes: st.rssPages * p.pageSize,
		StartTime:   boot.Add(time.Duration(st.startTicks) * time.Second / clockTicks).Unix(),
	}
	if cmd, cmdErr := os.ReadFile(filepath.Join(dir, "cmdline")); cmdErr == nil {
		rec.Cmdline = splitCmdline(cmd)
	}
	return rec, st, nil
}

// readBootTime returns the btime line of a /proc/stat file. Unlike uptime
// arithmetic it does not drift between calls.
func readBootTime(path string) (time.Time, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	for line := range strings.Lines(string(raw)) {
		v, ok := strings.CutPrefix(line, "btime ")
		if !ok {
			continue
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse btime: %w", err)
		}
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, fmt.Errorf("no btime in %s", path)
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// statFields holds the subset of /proc/<pid>/stat used by the scanner.
type statFields struct {
	comm       string
	ppid       int
	utime      uint64
	stime      uint64
	startTicks uint64
	rssPages   uint64
}

// parseStat parses the contents of /proc/<pid>/stat. The comm field is
// parenthesized and may itself contain spaces or parentheses, so fields are
// located relative to the last ')'.
func parseStat(s string) (statFields, error) {
	open := strings.IndexByte(s, '(')
	closeIdx := strings.LastIndexByte(s, ')')
	if open < 0 || closeIdx < open {
		return statFields{}, fmt.Errorf("malformed stat line")
	}
	rest := strings.Fields(s[closeIdx+1:])
	// rest[0] is field 3 (state); rss is field 24.
	if len(rest) < 22 {
		return statFields{}, fmt.Errorf("stat has %d fields after comm, want >= 22", len(rest))
	}

	var st statFields
	st.comm = s[open+1 : closeIdx]
	var err error
	if st.ppid, err = strconv.Atoi(rest[1]); err != nil {
		return statFields{}, fmt.Errorf("ppid: %w", err)
	}
	if st.utime, err = strconv.ParseUint(rest[11], 10, 64); err != nil {
		return statFields{}, fmt.Errorf("utime: %w", err)
	}
	if st.stime, err = strconv.ParseUint(rest[12], 10, 64); err != nil {
		return statFields{}, fmt.Errorf("stime: %w", err)
	}
	if st.startTicks, err = strconv.ParseUint(rest[19], 10, 64); err != nil {
		return statFields{}, fmt.Errorf("starttime: %w", err)
	}
	if rss, rssErr := strconv.ParseInt(rest[21], 10, 64); rssErr == nil && rss > 0 {
		st.rssPages = uint64(rss)
	}
	return st, nil
}

// splitCmdline splits a NUL-separated /proc/<pid>/cmdline buffer.
func splitCmdline(b []byte) []string {
	s := strings.TrimRight(string(b), "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}
