// Package cadence decides, per incoming frame, whether to run the object
// detector, or to reuse the previous result. On constrained devices we only
// run the detector on every Nth frame; the frames in between reuse the last
// result, optionally blended for smoother display.
package cadence

import (
	"github.com/chewxy/math32"

	"github.com/cyclopcam/crowdsense/pkg/detect"
)

// Frame skip factors per device capability class.
// A skip factor of N means the detector runs on every Nth frame.
const (
	SkipFactorFull        = 1 // Desktop-class hardware
	SkipFactorConstrained = 3 // eg Raspberry Pi
)

// Controller is the frame-skip scheduler. Pure scheduling logic, no I/O.
// Not safe for concurrent use; it belongs to the frame loop.
type Controller struct {
	skipFactor int64
	last       detect.Result
	haveLast   bool
}

// NewController creates a Controller for the given device capability.
func NewController(constrained bool) *Controller {
	skip := int64(SkipFactorFull)
	if constrained {
		skip = SkipFactorConstrained
	}
	return NewControllerWithSkip(skip)
}

func NewControllerWithSkip(skipFactor int64) *Controller {
	if skipFactor < 1 {
		skipFactor = 1
	}
	return &Controller{skipFactor: skipFactor}
}

// ShouldProcess reports whether the detector should run on this frame.
// For a sequence of N frames with skip factor K, exactly ceil(N/K) frames
// are processed.
func (c *Controller) ShouldProcess(frameSeq int64) bool {
	return frameSeq%c.skipFactor == 0
}

// Observe stores the result of a processed frame, for reuse by the skipped
// frames that follow it.
func (c *Controller) Observe(result detect.Result) {
	c.last = result
	c.haveLast = true
}

// LastResult returns the most recent processed result.
// Before any frame has been processed, it returns an empty "no detections"
// result rather than failing.
func (c *Controller) LastResult() detect.Result {
	if !c.haveLast {
		return detect.Result{}
	}
	return c.last
}

// Interpolate blends the boxes of two processed results, for display only.
// alpha 0 returns prev's boxes, alpha 1 returns curr's. Counts are never
// interpolated: the returned result reports curr's count and confidences.
// Boxes without a counterpart in both results are carried over unblended.
func Interpolate(prev, curr detect.Result, alpha float32) detect.Result {
	out := curr
	n := len(curr.Detections)
	if len(prev.Detections) < n {
		n = len(prev.Detections)
	}
	if n == 0 {
		return out
	}
	blended := make([]detect.Detection, len(curr.Detections))
	copy(blended, curr.Detections)
	for i := 0; i < n; i++ {
		a := prev.Detections[i].Box
		b := curr.Detections[i].Box
		blended[i].Box = detect.Rect{
			X1: lerp(a.X1, b.X1, alpha),
			Y1: lerp(a.Y1, b.Y1, alpha),
			X2: lerp(a.X2, b.X2, alpha),
			Y2: lerp(a.Y2, b.Y2, alpha),
		}
	}
	out.Detections = blended
	// Keep Anomalies aliased into the blended slice, at the same boundary
	// that the filter chose.
	if len(curr.Anomalies) > 0 {
		out.Anomalies = blended[len(blended)-len(curr.Anomalies):]
	}
	return out
}

func lerp(a, b int, alpha float32) int {
	return int(math32.Round(float32(a) + alpha*float32(b-a)))
}
