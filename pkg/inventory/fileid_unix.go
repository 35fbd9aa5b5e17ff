//go:build unix

package inventory

import (
	"io/fs"
	"syscall"
)

// fileID identifies a directory across symlinks and bind mounts.
type fileID struct {
	dev uint64
	ino uint64
}

// fileIDOf extracts device and inode from a stat result.
func fileIDOf(info fs.FileInfo) (fileID, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileID{}, false
	}
	return fileID{dev: uint64(st.Dev), ino: st.Ino}, true
}
