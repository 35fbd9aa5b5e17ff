//go:build windows

package preflight

import (
	"fmt"
	"os"
)

// platformCheckExecutable on Windows only requires a regular file; whether it
// runs depends on its extension and the PATHEXT associations.
func platformCheckExecutable(path string, info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("executor %s is not a regular file", path)
	}
	return nil
}
