//go:build !windows

package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// platformCheckExecutable asks the kernel whether the current user may execute path.
func platformCheckExecutable(path string, info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("executor %s is not a regular file", path)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return fmt.Errorf("executor %s is not executable: %w", path, err)
	}
	return nil
}
