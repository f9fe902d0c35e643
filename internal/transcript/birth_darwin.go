//go:build darwin

package transcript

import (
	"os"
	"syscall"
	"time"
)

// birthTime reads the creation time recorded by APFS/HFS+.
func birthTime(_ string, info os.FileInfo) (time.Time, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(st.Birthtimespec.Unix()), true
}
