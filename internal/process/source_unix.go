//go:build !linux && !windows

package process

// NewSource returns the platform process table source. Outside Linux there is
// no procfs, so the table is built from ps and lsof output.
func NewSource(wantCwd WantCwdFunc) Source {
	return NewPS(wantCwd)
}
