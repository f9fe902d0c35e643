package process

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// ps Source
// ///////////////////////////////////////////////

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRun runs name with args and returns its standard output.
func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PS builds the process table from ps(1), resolving working directories
// with lsof(8) for the processes selected by wantCwd.
type PS struct {
	wantCwd WantCwdFunc
	run     runFunc
	now     func() time.Time
}

// NewPS creates a ps-backed source.
func NewPS(wantCwd WantCwdFunc) *PS {
	return &PS{wantCwd: wantCwd, run: execRun, now: time.Now}
}

// Snapshot runs ps twice (stats and full arguments) and lsof once for the
// processes whose cwd is wanted.
func (p *PS) Snapshot(ctx context.Context) (Table, error) {
	stats, err := p.run(ctx, "ps", "-axo", "pid=,ppid=,pcpu=,rss=,etime=,comm=")
	if err != nil {
		return nil, fmt.Errorf("run ps: %w", err)
	}
	table := parsePSStats(string(stats), p.now())

	if args, argsErr := p.run(ctx, "ps", "-axo", "pid=,args="); argsErr == nil {
		for pid, cmd := range parsePSArgs(string(args)) {
			if r, ok := table[pid]; ok {
				r.Cmdline = cmd
				table[pid] = r
			}
		}
	} else {
		slog.Debug("ps args unavailable", "error", argsErr)
	}

	var pids []string
	for pid, r := range table {
		if p.wantCwd == nil || p.wantCwd(r) {
			pids = append(pids, strconv.Itoa(pid))
		}
	}
	if len(pids) == 0 {
		return table, nil
	}
	sort.Strings(pids)

	out, err := p.run(ctx, "lsof", "-a", "-d", "cwd", "-Fn", "-p", strings.Join(pids, ","))
	if err != nil && len(out) == 0 {
		// lsof exits non-zero when any listed pid has vanished; only treat
		// empty output as a failure.
		slog.Debug("lsof cwd lookup failed", "error", err)
		return table, nil
	}
	for pid, cwd := range parseLsofCwd(string(out)) {
		if r, ok := table[pid]; ok {
			r.Cwd = cwd
			table[pid] = r
		}
	}
	return table, nil
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// parsePSStats parses "pid ppid pcpu rss etime comm" rows. RSS is in KiB and
// etime is [[dd-]hh:]mm:ss; comm is the remainder of the line and may contain
// spaces.
func parsePSStats(out string, now time.Time) Table {
	table := make(Table)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 6 {
			continue
		}
		pid, err := strconv.Atoi(f[0])
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(f[1])
		cpu, _ := strconv.ParseFloat(f[2], 64)
		rssKB, _ := strconv.ParseUint(f[3], 10, 64)
		elapsed, err := parseEtime(f[4])
		if err != nil {
			continue
		}
		comm := strings.Join(f[5:], " ")
		if i := strings.LastIndexByte(comm, '/'); i >= 0 {
			comm = comm[i+1:]
		}
		table[pid] = Record{
			PID:         pid,
			PPID:        ppid,
			Name:        comm,
			CPUPercent:  cpu,
			MemoryBytes: rssKB * 1024,
			StartTime:   now.Add(-elapsed).Unix(),
		}
	}
	return table
}

// parseEtime parses the ps etime format [[dd-]hh:]mm:ss.
func parseEtime(s string) (time.Duration, error) {
	var days int
	if d, rest, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0, fmt.Errorf("etime days %q: %w", s, err)
		}
		days = n
		s = rest
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("etime %q: unexpected format", s)
	}
	var total int
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("etime %q: %w", s, err)
		}
		total = total*60 + n
	}
	return time.Duration(days)*24*time.Hour + time.Duration(total)*time.Second, nil
}

// parsePSArgs parses "pid args..." rows into whitespace-split argument lists.
func parsePSArgs(out string) map[int][]string {
	res := make(map[int][]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 2 {
			continue
		}
		pid, err := strconv.Atoi(f[0])
		if err != nil {
			continue
		}
		res[pid] = f[1:]
	}
	return res
}

// parseLsofCwd parses lsof -Fn field output: a "p<pid>" line followed by
// "f cwd" and "n<path>" lines.
func parseLsofCwd(out string) map[int]string {
	res := make(map[int]string)
	pid := -1
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		switch line[0] {
		case 'p':
			n, err := strconv.Atoi(line[1:])
			if err != nil {
				pid = -1
				continue
			}
			pid = n
		case 'n':
			if pid >= 0 {
				res[pid] = line[1:]
			}
		}
	}
	return res
}
