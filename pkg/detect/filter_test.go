package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeRaw(scores []float32, classes []int) RawOutput {
	raw := RawOutput{
		Classes: classes,
		Scores:  scores,
	}
	for range scores {
		raw.Boxes = append(raw.Boxes, [4]float32{0.1, 0.2, 0.5, 0.6})
	}
	return raw
}

func TestFilterThreshold(t *testing.T) {
	raw := makeRaw(
		[]float32{0.9, 0.5, 0.51, 0.1, 0.8},
		[]int{ClassPerson, ClassPerson, ClassPerson, ClassPerson, 7},
	)
	result := Filter(raw, FilterOptions{FrameWidth: 100, FrameHeight: 100})
	// 0.9 and 0.51 pass. 0.5 is not above the threshold, 0.1 is below,
	// and class 7 is not a person.
	require.Equal(t, 2, result.Count)
	require.Len(t, result.Detections, 2)
	require.Empty(t, result.Anomalies)
}

func TestFilterCountInvariant(t *testing.T) {
	raw := makeRaw([]float32{0.9, 0.9, 0.9}, []int{ClassPerson, ClassPerson, ClassPerson})
	result := Filter(raw, FilterOptions{FrameWidth: 640, FrameHeight: 480})
	require.Equal(t, len(result.Detections), result.Count)
}

func TestFilterBoxScaling(t *testing.T) {
	raw := RawOutput{
		Boxes:   [][4]float32{{0.25, 0.5, 0.75, 1.0}}, // ymin, xmin, ymax, xmax
		Classes: []int{ClassPerson},
		Scores:  []float32{0.9},
	}
	result := Filter(raw, FilterOptions{FrameWidth: 640, FrameHeight: 480})
	require.Equal(t, 1, result.Count)
	box := result.Detections[0].Box
	require.Equal(t, 320, box.X1)
	require.Equal(t, 120, box.Y1)
	require.Equal(t, 640, box.X2)
	require.Equal(t, 360, box.Y2)
}

func TestFilterAnomalyTail(t *testing.T) {
	n := DefaultAnomalyThreshold + 3
	scores := make([]float32, n)
	classes := make([]int, n)
	for i := 0; i < n; i++ {
		scores[i] = 0.9
		classes[i] = ClassPerson
	}
	result := Filter(makeRaw(scores, classes), FilterOptions{FrameWidth: 100, FrameHeight: 100})
	require.Equal(t, n, result.Count)
	require.Len(t, result.Anomalies, 3)
	// The anomalous detections are the tail of Detections, not copies
	require.Equal(t, result.Detections[DefaultAnomalyThreshold:], result.Anomalies)

	// Exactly at the threshold is not an anomaly
	result = Filter(makeRaw(scores[:DefaultAnomalyThreshold], classes[:DefaultAnomalyThreshold]), FilterOptions{FrameWidth: 100, FrameHeight: 100})
	require.Equal(t, DefaultAnomalyThreshold, result.Count)
	require.Empty(t, result.Anomalies)
}

func TestFilterEmpty(t *testing.T) {
	result := Filter(RawOutput{}, FilterOptions{FrameWidth: 100, FrameHeight: 100})
	require.Equal(t, 0, result.Count)
	require.Empty(t, result.Detections)
	require.Empty(t, result.Anomalies)
}

func TestFilterMismatchedSlices(t *testing.T) {
	// A detector that returns ragged output must not panic
	raw := RawOutput{
		Boxes:   [][4]float32{{0, 0, 1, 1}, {0, 0, 1, 1}},
		Classes: []int{ClassPerson},
		Scores:  []float32{0.9, 0.9, 0.9},
	}
	result := Filter(raw, FilterOptions{FrameWidth: 100, FrameHeight: 100})
	require.Equal(t, 1, result.Count)
}

func TestRectIOU(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)
	require.Equal(t, float32(0), Rect{X1: 0, Y1: 0, X2: 1, Y2: 1}.IOU(Rect{X1: 5, Y1: 5, X2: 6, Y2: 6}))
}
