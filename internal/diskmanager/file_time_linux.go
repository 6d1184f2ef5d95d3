//go:build linux

package diskmanager

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// creationTime returns the file's birth time from statx. Filesystems that do
// not record one fall back to the inode change time, then to the modification time.
func creationTime(path string, info fs.FileInfo) time.Time {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME|unix.STATX_CTIME, &stx)
	if err != nil {
		return info.ModTime()
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	if stx.Mask&unix.STATX_CTIME != 0 {
		return time.Unix(stx.Ctime.Sec, int64(stx.Ctime.Nsec))
	}
	return info.ModTime()
}
