//go:build !linux

package diskmanager

import (
	"io/fs"
	"time"
)

// creationTime falls back to the modification time where no portable birth
// time is available.
func creationTime(_ string, info fs.FileInfo) time.Time {
	return info.ModTime()
}
