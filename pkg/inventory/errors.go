package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDir is returned when the scan root or a sized path is not a directory.
	ErrNotDir = errors.New("not a directory")
	// ErrMaxDepth is returned when a tree nests deeper than the configured limit.
	ErrMaxDepth = errors.New("maximum directory depth exceeded")
)

// ScanError reports the path at which a scan or size computation failed.
// A scan never returns partial results together with a ScanError.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan failed at %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
