package detection

import (
	"sync"

	"gocv.io/x/gocv"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	DetectFunc func(img gocv.Mat, conf, iou float32) ([]Detection, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Detect invocation.
type MockCall struct {
	Width, Height int
	Conf, IoU     float32
}

// NewMock returns a mock that always detects the given boxes. Returned
// detections carry no masks.
func NewMock(dets ...Detection) *Mock {
	return &Mock{
		DetectFunc: func(gocv.Mat, float32, float32) ([]Detection, error) {
			out := make([]Detection, len(dets))
			copy(out, dets)
			return out, nil
		},
	}
}

// WithError returns a mock whose Detect always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		DetectFunc: func(gocv.Mat, float32, float32) ([]Detection, error) {
			return nil, err
		},
	}
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(img gocv.Mat, conf, iou float32) ([]Detection, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Width: img.Cols(), Height: img.Rows(), Conf: conf, IoU: iou})
	m.mu.Unlock()

	if m.DetectFunc != nil {
		return m.DetectFunc(img, conf, iou)
	}
	return nil, nil
}

// Close calls CloseFunc if set.
func (m *Mock) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Detect was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
