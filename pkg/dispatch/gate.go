package dispatch

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate admits at most one action per backup root at a time within a process.
// Share one Gate between all dispatchers of a process.
type Gate struct {
	mu    sync.Mutex
	roots map[string]*semaphore.Weighted
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{roots: make(map[string]*semaphore.Weighted)}
}

// Acquire blocks until root is free or ctx ends. The returned func releases the root.
func (g *Gate) Acquire(ctx context.Context, root string) (func(), error) {
	sem := g.semaphoreFor(root)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (g *Gate) semaphoreFor(root string) *semaphore.Weighted {
	key := filepath.Clean(root)
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.roots[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		g.roots[key] = sem
	}
	return sem
}
