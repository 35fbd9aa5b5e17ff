package metrics

import (
	"sync/atomic"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
)

// Metrics defines the interface for collecting and reporting scan statistics.
// Implementations must be safe for concurrent use by the sizing workers.
type Metrics interface {
	AddDirsScanned(n int64)
	AddDirsSkipped(n int64)
	AddFilesSized(n int64)
	AddBytesSized(n int64)
	AddSnapshotsFound(n int64)
	Log()
}

// ScanMetrics holds the atomic counters for tracking a scan's progress.
// It is the concrete implementation of the Metrics interface.
type ScanMetrics struct {
	DirsScanned    atomic.Int64
	DirsSkipped    atomic.Int64
	FilesSized     atomic.Int64
	BytesSized     atomic.Int64
	SnapshotsFound atomic.Int64
}

func (m *ScanMetrics) AddDirsScanned(n int64)    { m.DirsScanned.Add(n) }
func (m *ScanMetrics) AddDirsSkipped(n int64)    { m.DirsSkipped.Add(n) }
func (m *ScanMetrics) AddFilesSized(n int64)     { m.FilesSized.Add(n) }
func (m *ScanMetrics) AddBytesSized(n int64)     { m.BytesSized.Add(n) }
func (m *ScanMetrics) AddSnapshotsFound(n int64) { m.SnapshotsFound.Add(n) }

// Log prints a summary of the scan.
func (m *ScanMetrics) Log() {
	plog.Info("SUM",
		"snapshots", m.SnapshotsFound.Load(),
		"dirsScanned", m.DirsScanned.Load(),
		"dirsSkipped", m.DirsSkipped.Load(),
		"filesSized", m.FilesSized.Load(),
		"bytesSized", m.BytesSized.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddDirsScanned(n int64)    {}
func (m *NoopMetrics) AddDirsSkipped(n int64)    {}
func (m *NoopMetrics) AddFilesSized(n int64)     {}
func (m *NoopMetrics) AddBytesSized(n int64)     {}
func (m *NoopMetrics) AddSnapshotsFound(n int64) {}
func (m *NoopMetrics) Log()                      {}

// Statically assert that our types implement the interface.
var _ Metrics = (*ScanMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
