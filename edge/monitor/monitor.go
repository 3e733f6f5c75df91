// Package monitor runs the frame-processing loop on the edge device:
// acquire frame, run (or skip) the detector, filter, record statistics,
// and hand the result to the dispatcher.
package monitor

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/crowdsense/edge/cadence"
	"github.com/cyclopcam/crowdsense/edge/dispatch"
	"github.com/cyclopcam/crowdsense/edge/telembuf"
	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/logs"
)

// Frame is one captured video frame. The capture loop owns it exclusively
// until it is handed to the monitor, after which nobody mutates it.
type Frame struct {
	Image detect.Image
	Seq   int64 // Monotonically increasing
	PTS   time.Time
}

// FrameSource produces frames. NextFrame may block on the capture hardware.
// It returns io.EOF when the stream ends.
type FrameSource interface {
	NextFrame() (*Frame, error)
}

// OnFrameFunc receives every frame together with the detection result to
// draw on it. interpolated is true when the result was reused from an
// earlier frame (possibly blended), rather than freshly computed.
// This is the hook for any display/UI layer, which is outside this package.
type OnFrameFunc func(frame *Frame, result detect.Result, interpolated bool)

type Options struct {
	ScoreThreshold   float32 // 0 means detect.DefaultScoreThreshold
	AnomalyThreshold int     // 0 means detect.DefaultAnomalyThreshold
	SkipFactor       int64   // 0 means pick from Constrained
	Constrained      bool    // Constrained device (eg Raspberry Pi): higher skip factor
	WindowSize       int     // Rolling statistics window. 0 means default.
	OnFrame          OnFrameFunc
	EncodeSnapshot   func(img detect.Image) []byte // JPEG encoder for telemetry snapshots. nil disables snapshots.
}

// Monitor drives the pipeline. One goroutine handles a frame completely
// before fetching the next; the only other actor is the dispatcher's
// transmission worker.
type Monitor struct {
	Log logs.Log

	detector   detect.ObjectDetector
	source     FrameSource
	dispatcher *dispatch.Dispatcher
	buffer     *telembuf.Buffer
	cadence    *cadence.Controller
	opts       Options

	mustStop      atomic.Bool
	looperStopped chan bool
	lastErrAt     time.Time

	// The two most recent processed results, for display interpolation.
	// Owned by the loop goroutine.
	prevProcessed    detect.Result
	lastProcessedSeq int64
	numProcessed     int64
}

// NewMonitor starts the frame loop.
func NewMonitor(logger logs.Log, detector detect.ObjectDetector, source FrameSource, dispatcher *dispatch.Dispatcher, opts Options) *Monitor {
	skip := opts.SkipFactor
	if skip == 0 {
		if opts.Constrained {
			skip = cadence.SkipFactorConstrained
		} else {
			skip = cadence.SkipFactorFull
		}
	}
	m := &Monitor{
		Log:           logs.NewPrefixLogger(logger, "Monitor"),
		detector:      detector,
		source:        source,
		dispatcher:    dispatcher,
		buffer:        telembuf.NewBuffer(opts.WindowSize),
		cadence:       cadence.NewControllerWithSkip(skip),
		opts:          opts,
		looperStopped: make(chan bool),
	}
	go m.loop()
	return m
}

// Stop stops the frame loop and waits for it to exit. It does not wait for
// an in-flight transmission; that belongs to the dispatcher.
func (m *Monitor) Stop() {
	m.mustStop.Store(true)
	<-m.looperStopped
}

// Statistics returns the rolling window summary. Safe to call from any
// goroutine while the loop runs.
func (m *Monitor) Statistics() telembuf.Statistics {
	return m.buffer.Statistics()
}

func (m *Monitor) loop() {
	defer close(m.looperStopped)
	for !m.mustStop.Load() {
		frame, err := m.source.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.Log.Infof("End of stream")
				return
			}
			m.throttledError("Frame acquisition failed: %v", err)
			continue
		}
		if m.cadence.ShouldProcess(frame.Seq) {
			m.processFrame(frame)
		} else {
			m.reuseFrame(frame)
		}
	}
}

// processFrame runs the detector on a frame. Detector failures never escape:
// they are logged (throttled) and the frame falls back to the last result.
func (m *Monitor) processFrame(frame *Frame) {
	start := time.Now()
	raw, err := m.detector.Detect(frame.Image)
	if err != nil {
		m.throttledError("Error detecting objects: %v", err)
		m.reuseFrame(frame)
		return
	}
	result := detect.Filter(raw, detect.FilterOptions{
		ScoreThreshold:   m.opts.ScoreThreshold,
		AnomalyThreshold: m.opts.AnomalyThreshold,
		FrameWidth:       frame.Image.Width,
		FrameHeight:      frame.Image.Height,
	})
	result.ProcessingTimeMS = float64(time.Now().Sub(start).Nanoseconds()) / 1e6
	result.FramePTS = frame.PTS

	m.prevProcessed = m.cadence.LastResult()
	m.lastProcessedSeq = frame.Seq
	m.numProcessed++
	m.cadence.Observe(result)

	m.buffer.Record(result.Count, len(result.Anomalies), result.ProcessingTimeMS)

	var snapshot func() []byte
	if m.opts.EncodeSnapshot != nil {
		img := frame.Image
		snapshot = func() []byte { return m.opts.EncodeSnapshot(img) }
	}
	m.dispatcher.Observe(&result, snapshot, frame.Seq)

	if m.opts.OnFrame != nil {
		m.opts.OnFrame(frame, result, false)
	}
}

// reuseFrame hands a skipped frame to the display with the last processed
// result, blended between the two most recent processed results. The blend
// affects only what gets drawn; the reported count is the last one.
func (m *Monitor) reuseFrame(frame *Frame) {
	if m.opts.OnFrame == nil {
		return
	}
	result := m.cadence.LastResult()
	if m.numProcessed >= 2 {
		skip := frame.Seq - m.lastProcessedSeq
		if skip > 0 {
			alpha := float32(skip) / float32(m.cadenceSkipFactor())
			if alpha > 1 {
				alpha = 1
			}
			result = cadence.Interpolate(m.prevProcessed, result, alpha)
		}
	}
	m.opts.OnFrame(frame, result, true)
}

func (m *Monitor) cadenceSkipFactor() int64 {
	if m.opts.SkipFactor != 0 {
		return m.opts.SkipFactor
	}
	if m.opts.Constrained {
		return cadence.SkipFactorConstrained
	}
	return cadence.SkipFactorFull
}

func (m *Monitor) throttledError(format string, args ...any) {
	if time.Now().Sub(m.lastErrAt) > 15*time.Second {
		m.Log.Errorf(format, args...)
		m.lastErrAt = time.Now()
	}
}
