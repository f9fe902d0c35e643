//go:build linux

package process

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// NewSource returns the platform process table source. On Linux it reads
// /proc directly.
func NewSource(wantCwd WantCwdFunc) Source {
	return NewProcfs("/proc", wantCwd, sync.OnceValues(bootTime), unix.Getpagesize())
}

// bootTime reads btime from /proc/stat. When that is unavailable it falls
// back to the kernel uptime counter, which has whole-second resolution.
func bootTime() (time.Time, error) {
	if boot, err := readBootTime("/proc/stat"); err == nil {
		return boot, nil
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return time.Time{}, fmt.Errorf("sysinfo: %w", err)
	}
	return time.Now().Add(-time.Duration(info.Uptime) * time.Second), nil
}
