//go:build windows

package transcript

import (
	"os"
	"syscall"
	"time"
)

// birthTime reads the NTFS creation time.
func birthTime(_ string, info os.FileInfo) (time.Time, bool) {
	d, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, d.CreationTime.Nanoseconds()), true
}
