// Package inventory discovers snapshot directories below a backup root,
// computes their sizes and returns them in canonical order.
package inventory

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/pgl-snapctl/pkg/metrics"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Scanner walks a backup root and builds snapshot records.
// It holds no results between calls; every Scan reads the filesystem again.
type Scanner struct {
	workers  int
	maxDepth int
	metrics  metrics.Metrics

	// inflight coalesces scans of the same root that overlap in time.
	inflight singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context a shared scan runs under. It is canceled once every
// caller waiting on the scan has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewScanner creates a Scanner. Non-positive values select the defaults:
// one sizing worker per CPU and DefaultMaxDepth. A nil m disables metrics.
func NewScanner(workers, maxDepth int, m metrics.Metrics) *Scanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Scanner{workers: workers, maxDepth: maxDepth, metrics: m, flights: map[string]*flight{}}
}

type walkFrame struct {
	abs   string
	rel   string
	depth int
}

// Scan returns one record per dated directory below root, ordered by tier
// priority and then newest first. Any unreadable directory fails the whole scan.
// A caller that cancels ctx stops waiting without failing other callers
// sharing the same scan.
func (s *Scanner) Scan(ctx context.Context, root string) ([]snapshot.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := s.scanShared(ctx, root)
		// The shared scan was abandoned by everyone else just as we joined it.
		if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			continue
		}
		return records, err
	}
}

func (s *Scanner) scanShared(ctx context.Context, root string) ([]snapshot.Record, error) {
	f := s.join(root)
	defer s.leave(root, f)

	ch := s.inflight.DoChan(root, func() (any, error) {
		return s.scan(f.ctx, root)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		records := res.Val.([]snapshot.Record)
		if res.Shared {
			// Callers own their slice.
			records = slices.Clone(records)
		}
		return records, nil
	}
}

func (s *Scanner) join(root string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flights[root]
	if f == nil {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel}
		s.flights[root] = f
	}
	f.waiters++
	return f
}

func (s *Scanner) leave(root string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[root] == f {
		delete(s.flights, root)
	}
}

func (s *Scanner) scan(ctx context.Context, root string) ([]snapshot.Record, error) {
	start := time.Now()

	relPaths, err := s.discover(ctx, root)
	if err != nil {
		return nil, err
	}

	sizes := make([]uint64, len(relPaths))
	gone := make([]bool, len(relPaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rel := range relPaths {
		g.Go(func() error {
			dir := filepath.Join(root, util.DenormalizePath(rel))
			n, err := sizeOf(gctx, dir, s.maxDepth, s.metrics)
			if err != nil {
				var scanErr *ScanError
				if errors.As(err, &scanErr) && scanErr.Path == dir && errors.Is(err, fs.ErrNotExist) {
					plog.Warn("Snapshot vanished before it could be sized, skipping", "path", dir)
					s.metrics.AddDirsSkipped(1)
					gone[i] = true
					return nil
				}
				return err
			}
			sizes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]snapshot.Record, 0, len(relPaths))
	for i, rel := range relPaths {
		if gone[i] {
			continue
		}
		records = append(records, snapshot.NewRecord(rel, sizes[i]))
	}
	Sort(records)
	s.metrics.AddSnapshotsFound(int64(len(records)))

	plog.Debug("Scan finished", "root", root, "snapshots", len(records), "duration", time.Since(start).Round(time.Millisecond))
	return records, nil
}

// discover walks root depth-first in lexical order and returns the
// slash-separated relative paths of all dated directories, in discovery order.
func (s *Scanner) discover(ctx context.Context, root string) ([]string, error) {
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Path: root, Err: err}
	}
	if !rootInfo.IsDir() {
		return nil, &ScanError{Path: root, Err: ErrNotDir}
	}

	visited := visitedSet{}
	visited.enter(rootInfo)

	var found []string
	stack := []walkFrame{{abs: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.rel != "" && snapshot.LooksDated(path.Base(cur.rel)) {
			found = append(found, cur.rel)
		}

		entries, err := os.ReadDir(cur.abs)
		if err != nil {
			if cur.depth > 0 && errors.Is(err, fs.ErrNotExist) {
				// Pruned between listing the parent and reading it.
				plog.Warn("Directory vanished during scan, skipping", "path", cur.abs)
				s.metrics.AddDirsSkipped(1)
				if cur.rel != "" && len(found) > 0 && found[len(found)-1] == cur.rel {
					found = found[:len(found)-1]
				}
				continue
			}
			return nil, &ScanError{Path: cur.abs, Err: err}
		}
		s.metrics.AddDirsScanned(1)

		var children []walkFrame
		for _, entry := range entries {
			absPath := filepath.Join(cur.abs, entry.Name())
			if !entry.IsDir() && entry.Type()&fs.ModeSymlink == 0 {
				continue
			}
			info, err := statEntry(absPath, entry)
			if err != nil {
				return nil, &ScanError{Path: absPath, Err: err}
			}
			if info == nil || !info.IsDir() {
				continue
			}
			if visited.enter(info) {
				plog.Debug("Skipping already visited directory", "path", absPath)
				s.metrics.AddDirsSkipped(1)
				continue
			}
			if cur.depth+1 > s.maxDepth {
				return nil, &ScanError{Path: absPath, Err: ErrMaxDepth}
			}
			children = append(children, walkFrame{
				abs:   absPath,
				rel:   path.Join(cur.rel, entry.Name()),
				depth: cur.depth + 1,
			})
		}

		// Push in reverse so the lexically first child is popped first.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return found, nil
}
