package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
)

func TestScanMetrics_ConcurrentAdds(t *testing.T) {
	m := &ScanMetrics{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.AddFilesSized(1)
				m.AddBytesSized(10)
			}
		}()
	}
	wg.Wait()

	if got := m.FilesSized.Load(); got != 800 {
		t.Errorf("expected 800 files, got %d", got)
	}
	if got := m.BytesSized.Load(); got != 8000 {
		t.Errorf("expected 8000 bytes, got %d", got)
	}
}

func TestScanMetrics_Log(t *testing.T) {
	var buf bytes.Buffer
	plog.SetOutput(&buf)
	defer plog.SetOutput(&bytes.Buffer{})

	m := &ScanMetrics{}
	m.AddSnapshotsFound(3)
	m.AddDirsScanned(7)
	m.Log()

	out := buf.String()
	for _, want := range []string{"SUM", "snapshots=3", "dirsScanned=7", "bytesSized=0"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %q, got %q", want, out)
		}
	}
}

func TestNoopMetrics_Log(t *testing.T) {
	var buf bytes.Buffer
	plog.SetOutput(&buf)
	defer plog.SetOutput(&bytes.Buffer{})

	m := &NoopMetrics{}
	m.AddSnapshotsFound(3)
	m.Log()

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
