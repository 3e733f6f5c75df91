package monitor

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/crowdsense/edge/dispatch"
	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// sliceSource feeds a fixed number of synthetic frames, then EOF.
type sliceSource struct {
	n    int64
	next int64
	done chan bool
	once sync.Once
}

func (s *sliceSource) NextFrame() (*Frame, error) {
	if s.next >= s.n {
		s.once.Do(func() { close(s.done) })
		return nil, io.EOF
	}
	f := &Frame{
		Image: detect.Image{Width: 640, Height: 480},
		Seq:   s.next,
		PTS:   time.Now(),
	}
	s.next++
	return f, nil
}

// fixedDetector returns the same boxes for every frame, and counts its calls.
type fixedDetector struct {
	lock  sync.Mutex
	boxes int
	calls int
	err   error
}

func (d *fixedDetector) Close() {}

func (d *fixedDetector) Detect(img detect.Image) (detect.RawOutput, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.calls++
	if d.err != nil {
		return detect.RawOutput{}, d.err
	}
	raw := detect.RawOutput{}
	for i := 0; i < d.boxes; i++ {
		raw.Boxes = append(raw.Boxes, [4]float32{0.1, 0.1, 0.5, 0.5})
		raw.Classes = append(raw.Classes, detect.ClassPerson)
		raw.Scores = append(raw.Scores, 0.9)
	}
	return raw, nil
}

func (d *fixedDetector) callCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.calls
}

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.NewDispatcher(logs.NewTestingLog(t), dispatch.Config{
		CollectorURL:      "http://127.0.0.1:1",
		DeviceID:          "test-device",
		HeartbeatInterval: time.Hour,
		SendTimeout:       50 * time.Millisecond,
		PingInterval:      -1,
		FallbackPath:      filepath.Join(t.TempDir(), "fallback_log.txt"),
	})
	t.Cleanup(d.Stop)
	return d
}

type frameEvent struct {
	seq          int64
	count        int
	interpolated bool
}

func runMonitor(t *testing.T, nFrames int64, detector *fixedDetector, opts Options) []frameEvent {
	t.Helper()
	events := []frameEvent{}
	lock := sync.Mutex{}
	opts.OnFrame = func(frame *Frame, result detect.Result, interpolated bool) {
		lock.Lock()
		events = append(events, frameEvent{seq: frame.Seq, count: result.Count, interpolated: interpolated})
		lock.Unlock()
	}
	source := &sliceSource{n: nFrames, done: make(chan bool)}
	m := NewMonitor(logs.NewTestingLog(t), detector, source, newTestDispatcher(t), opts)
	select {
	case <-source.done:
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not consume the frames")
	}
	m.Stop()
	return events
}

func TestEveryFrameProcessed(t *testing.T) {
	detector := &fixedDetector{boxes: 4}
	events := runMonitor(t, 10, detector, Options{})
	require.Equal(t, 10, detector.callCount())
	require.Len(t, events, 10)
	for _, e := range events {
		require.False(t, e.interpolated)
		require.Equal(t, 4, e.count)
	}
}

func TestConstrainedSkipsFrames(t *testing.T) {
	detector := &fixedDetector{boxes: 2}
	events := runMonitor(t, 10, detector, Options{Constrained: true})
	// Skip factor 3: frames 0,3,6,9 are processed, ceil(10/3) = 4
	require.Equal(t, 4, detector.callCount())
	require.Len(t, events, 10)
	for _, e := range events {
		require.Equal(t, e.seq%3 != 0, e.interpolated, "seq %v", e.seq)
		// Skipped frames still report the last processed count
		require.Equal(t, 2, e.count)
	}
}

func TestDetectorErrorsDoNotStopLoop(t *testing.T) {
	detector := &fixedDetector{boxes: 1, err: io.ErrUnexpectedEOF}
	events := runMonitor(t, 5, detector, Options{})
	require.Equal(t, 5, detector.callCount())
	// Every frame fell back to the (empty) last result
	require.Len(t, events, 5)
	for _, e := range events {
		require.True(t, e.interpolated)
		require.Equal(t, 0, e.count)
	}
}

func TestStatistics(t *testing.T) {
	detector := &fixedDetector{boxes: 3}
	source := &sliceSource{n: 6, done: make(chan bool)}
	m := NewMonitor(logs.NewTestingLog(t), detector, source, newTestDispatcher(t), Options{})
	<-source.done
	m.Stop()
	stats := m.Statistics()
	require.Equal(t, 6, stats.Samples)
	require.InDelta(t, 3.0, stats.MeanCount, 1e-9)
	require.Equal(t, 0, stats.AnomalyTotal)
}
