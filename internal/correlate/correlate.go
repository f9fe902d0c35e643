// Package correlate pairs agent processes with the transcript files of a
// shared project directory.
package correlate

import (
	"sort"
	"time"
)

// Process is an agent process competing for a transcript.
type Process struct {
	PID       int
	StartTime time.Time
}

// File is a candidate transcript. Callers pass files newest mtime first.
type File struct {
	Path    string
	ModTime time.Time
	Created time.Time
}

// pair is one (process, file) candidate with its time distance.
type pair struct {
	proc  int
	file  int
	delta time.Duration
}

// Assign maps each process PID to a file index. A lone process takes the
// newest file. Several processes are paired greedily by the smallest distance
// between process start and file creation; ties keep process order, then file
// order. Processes left over take the lowest unclaimed index. No index is
// used twice and processes without a file are absent from the result.
func Assign(procs []Process, files []File) map[int]int {
	out := make(map[int]int, len(procs))
	if len(procs) == 0 || len(files) == 0 {
		return out
	}
	if len(procs) == 1 {
		out[procs[0].PID] = 0
		return out
	}

	pairs := make([]pair, 0, len(procs)*len(files))
	for i, p := range procs {
		for j, f := range files {
			d := p.StartTime.Sub(f.Created)
			if d < 0 {
				d = -d
			}
			pairs = append(pairs, pair{proc: i, file: j, delta: d})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].delta < pairs[b].delta
	})

	procDone := make([]bool, len(procs))
	fileDone := make([]bool, len(files))
	for _, pr := range pairs {
		if procDone[pr.proc] || fileDone[pr.file] {
			continue
		}
		procDone[pr.proc] = true
		fileDone[pr.file] = true
		out[procs[pr.proc].PID] = pr.file
	}

	next := 0
	for i, p := range procs {
		if procDone[i] {
			continue
		}
		for next < len(files) && fileDone[next] {
			next++
		}
		if next == len(files) {
			break
		}
		fileDone[next] = true
		out[p.PID] = next
	}
	return out
}

// Secondary returns indices of files no process claimed that were modified
// within window of now. These may reflect the live state of a process whose
// conversation moved to a new file. Any index can qualify, whatever its
// position in files.
func Secondary(files []File, claimed map[int]bool, now time.Time, window time.Duration) []int {
	var out []int
	for i, f := range files {
		if claimed[i] {
			continue
		}
		if now.Sub(f.ModTime) < window {
			out = append(out, i)
		}
	}
	return out
}
