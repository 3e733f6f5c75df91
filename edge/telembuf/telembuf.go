// Package telembuf keeps a short rolling history of recent frame results,
// for the status display and for telemetry payload statistics.
package telembuf

import (
	"math"
	"sync"

	"github.com/bmharper/ringbuffer"
)

// DefaultWindowSize is the number of recent samples we keep.
const DefaultWindowSize = 15

type sample struct {
	count            int
	anomalyCount     int
	processingTimeMS float64
}

// Statistics is a summary of the current window.
type Statistics struct {
	MeanCount            float64 `json:"meanCount"`
	FPS                  float64 `json:"fps"`
	MeanProcessingTimeMS float64 `json:"meanProcessingTimeMS"`
	AnomalyTotal         int     `json:"anomalyTotal"`
	Samples              int     `json:"samples"`
}

// Buffer is a fixed-capacity rolling window of recent counts, anomaly counts
// and processing times. The frame loop writes, the status/telemetry thread
// reads, so all access is under one lock. The lock is only held for the
// duration of the ring operation, never across I/O.
type Buffer struct {
	lock sync.Mutex
	ring ringbuffer.RingP[sample]
}

// NewBuffer creates a rolling window of the given size (0 means default).
// The ring rounds the size up to a power of 2.
func NewBuffer(windowSize int) *Buffer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Buffer{
		ring: ringbuffer.NewRingP[sample](nextPowerOf2(windowSize)),
	}
}

// Record adds one frame's numbers. The oldest sample is evicted when the
// window is full.
func (b *Buffer) Record(count, anomalyCount int, processingTimeMS float64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.ring.Add(sample{
		count:            count,
		anomalyCount:     anomalyCount,
		processingTimeMS: processingTimeMS,
	})
}

// Statistics summarizes the current window. An empty window yields all zeros
// (in particular FPS is 0, not a division by zero).
func (b *Buffer) Statistics() Statistics {
	b.lock.Lock()
	defer b.lock.Unlock()
	n := b.ring.Len()
	if n == 0 {
		return Statistics{}
	}
	stats := Statistics{Samples: n}
	sumCount := 0
	sumTimeMS := 0.0
	for i := 0; i < n; i++ {
		s := b.ring.Peek(i)
		sumCount += s.count
		stats.AnomalyTotal += s.anomalyCount
		sumTimeMS += s.processingTimeMS
	}
	stats.MeanCount = float64(sumCount) / float64(n)
	stats.MeanProcessingTimeMS = sumTimeMS / float64(n)
	if sumTimeMS > 0 {
		stats.FPS = float64(n) / (sumTimeMS / 1000)
	}
	return stats
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
