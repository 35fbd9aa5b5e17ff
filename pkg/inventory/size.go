package inventory

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-snapctl/pkg/metrics"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
)

// DefaultMaxDepth bounds traversal depth below a scan or size root.
const DefaultMaxDepth = 64

type sizeFrame struct {
	path  string
	depth int
}

// SizeOf returns the total byte length of every regular file below dirPath.
// Symbolic links count as their target; each linked directory is entered at
// most once, and dangling links are ignored. An empty directory has size 0.
func SizeOf(ctx context.Context, dirPath string) (uint64, error) {
	return sizeOf(ctx, dirPath, DefaultMaxDepth, &metrics.NoopMetrics{})
}

func sizeOf(ctx context.Context, dirPath string, maxDepth int, m metrics.Metrics) (uint64, error) {
	rootInfo, err := os.Stat(dirPath)
	if err != nil {
		return 0, &ScanError{Path: dirPath, Err: err}
	}
	if !rootInfo.IsDir() {
		return 0, &ScanError{Path: dirPath, Err: ErrNotDir}
	}

	visited := visitedSet{}
	visited.enter(rootInfo)

	var total uint64
	stack := []sizeFrame{{path: dirPath}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(cur.path)
		if err != nil {
			// A subdirectory pruned by the backup producer mid-walk is gone, not broken.
			if cur.depth > 0 && errors.Is(err, fs.ErrNotExist) {
				plog.Warn("Directory vanished during size computation, skipping", "path", cur.path)
				m.AddDirsSkipped(1)
				continue
			}
			return 0, &ScanError{Path: cur.path, Err: err}
		}
		m.AddDirsScanned(1)

		for _, entry := range entries {
			absPath := filepath.Join(cur.path, entry.Name())
			info, err := statEntry(absPath, entry)
			if err != nil {
				return 0, &ScanError{Path: absPath, Err: err}
			}
			if info == nil {
				continue
			}

			switch {
			case info.Mode().IsRegular():
				total += uint64(info.Size())
				m.AddFilesSized(1)
				m.AddBytesSized(info.Size())
			case info.IsDir():
				if visited.enter(info) {
					plog.Debug("Skipping already visited directory", "path", absPath)
					m.AddDirsSkipped(1)
					continue
				}
				if cur.depth+1 > maxDepth {
					return 0, &ScanError{Path: absPath, Err: ErrMaxDepth}
				}
				stack = append(stack, sizeFrame{path: absPath, depth: cur.depth + 1})
			}
		}
	}
	return total, nil
}
