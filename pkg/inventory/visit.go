package inventory

import (
	"errors"
	"io/fs"
	"os"
)

// visitedSet remembers directories already entered during one traversal.
type visitedSet map[fileID]struct{}

// enter records info and reports whether it was seen before.
// Directories without an identity are always entered.
func (v visitedSet) enter(info fs.FileInfo) (seen bool) {
	id, ok := fileIDOf(info)
	if !ok {
		return false
	}
	if _, dup := v[id]; dup {
		return true
	}
	v[id] = struct{}{}
	return false
}

// statEntry resolves a directory entry to the type of its target.
// Symbolic links are followed. A nil info with a nil error means the entry
// vanished or the link dangles and must be skipped.
func statEntry(absPath string, entry fs.DirEntry) (fs.FileInfo, error) {
	var (
		info fs.FileInfo
		err  error
	)
	if entry.Type()&fs.ModeSymlink != 0 || entry.IsDir() {
		// Directories need a full stat for their device/inode pair.
		info, err = os.Stat(absPath)
	} else {
		info, err = entry.Info()
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}
