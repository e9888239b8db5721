package mem

import (
	"io"

	cerrors "github.com/cockroachdb/errors"
)

// Monitor lets a caller observe and cancel a long-running operation. A nil
// Monitor is always accepted and never cancels.
type Monitor interface {
	Cancelled() bool
	IncrementProgress(delta int64)
}

type noopMonitor struct{}

func (noopMonitor) Cancelled() bool               { return false }
func (noopMonitor) IncrementProgress(delta int64) {}

func orNoopMonitor(monitor Monitor) Monitor {
	if monitor == nil {
		return noopMonitor{}
	}
	return monitor
}

// monitoredReader fails a byte stream with ErrCancelled once its monitor
// cancels.
type monitoredReader struct {
	r       io.Reader
	monitor Monitor
}

func (mr monitoredReader) Read(p []byte) (int, error) {
	if mr.monitor.Cancelled() {
		return 0, cerrors.Mark(cerrors.New("read cancelled by monitor"), ErrCancelled)
	}
	return mr.r.Read(p)
}

// fillReader yields an endless stream of one byte value.
type fillReader byte

func (f fillReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(f)
	}
	return len(p), nil
}
