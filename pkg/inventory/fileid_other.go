//go:build !unix

package inventory

import "io/fs"

type fileID struct {
	dev uint64
	ino uint64
}

// fileIDOf has no inode to offer here; the max-depth guard is the only
// protection against link cycles on these platforms.
func fileIDOf(fs.FileInfo) (fileID, bool) {
	return fileID{}, false
}
