package telembuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyWindow(t *testing.T) {
	b := NewBuffer(0)
	stats := b.Statistics()
	require.Equal(t, Statistics{}, stats)
}

func TestStatistics(t *testing.T) {
	b := NewBuffer(8)
	b.Record(10, 0, 50)
	b.Record(20, 5, 100)
	b.Record(30, 10, 150)

	stats := b.Statistics()
	require.Equal(t, 3, stats.Samples)
	require.InDelta(t, 20.0, stats.MeanCount, 1e-9)
	require.InDelta(t, 100.0, stats.MeanProcessingTimeMS, 1e-9)
	require.Equal(t, 15, stats.AnomalyTotal)
	// 3 frames in 300ms of processing time
	require.InDelta(t, 10.0, stats.FPS, 1e-9)
}

func TestEviction(t *testing.T) {
	b := NewBuffer(4)
	for i := 0; i < 10; i++ {
		b.Record(i, 0, 10)
	}
	stats := b.Statistics()
	require.Equal(t, 4, stats.Samples)
	// Only the last 4 counts remain: 6,7,8,9
	require.InDelta(t, 7.5, stats.MeanCount, 1e-9)
}

func TestZeroProcessingTime(t *testing.T) {
	b := NewBuffer(4)
	b.Record(5, 0, 0)
	stats := b.Statistics()
	require.Equal(t, 1, stats.Samples)
	require.Equal(t, 0.0, stats.FPS)
}

func TestNextPowerOf2(t *testing.T) {
	require.Equal(t, 1, nextPowerOf2(1))
	require.Equal(t, 4, nextPowerOf2(3))
	require.Equal(t, 4, nextPowerOf2(4))
	require.Equal(t, 16, nextPowerOf2(15))
	require.Equal(t, 32, nextPowerOf2(17))
}
