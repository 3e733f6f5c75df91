package detect

// FilterOptions controls Filter.
type FilterOptions struct {
	ScoreThreshold   float32 // Zero value means DefaultScoreThreshold
	AnomalyThreshold int     // Zero value means DefaultAnomalyThreshold
	FrameWidth       int     // Width of the frame that the boxes will be drawn on
	FrameHeight      int     // Height of the frame that the boxes will be drawn on
}

// Filter thresholds and reshapes raw detector output into a Result.
// Only detections with score above the threshold AND class "person" are kept.
// Box coordinates are scaled from the model's normalized space into the pixel
// space of the current frame. The frame resolution can differ from the model's
// fixed input resolution, which is why scaling is redone on every frame.
// Empty input is fine, and yields Count = 0.
func Filter(raw RawOutput, opts FilterOptions) Result {
	scoreThreshold := opts.ScoreThreshold
	if scoreThreshold == 0 {
		scoreThreshold = DefaultScoreThreshold
	}
	anomalyThreshold := opts.AnomalyThreshold
	if anomalyThreshold == 0 {
		anomalyThreshold = DefaultAnomalyThreshold
	}
	w := float32(opts.FrameWidth)
	h := float32(opts.FrameHeight)

	result := Result{}
	n := len(raw.Scores)
	if len(raw.Boxes) < n {
		n = len(raw.Boxes)
	}
	if len(raw.Classes) < n {
		n = len(raw.Classes)
	}
	for i := 0; i < n; i++ {
		if raw.Scores[i] <= scoreThreshold || raw.Classes[i] != ClassPerson {
			continue
		}
		// SSD box order is ymin, xmin, ymax, xmax
		box := raw.Boxes[i]
		result.Detections = append(result.Detections, Detection{
			Box: Rect{
				X1: int(box[1] * w),
				Y1: int(box[0] * h),
				X2: int(box[3] * w),
				Y2: int(box[2] * h),
			},
			Class:      raw.Classes[i],
			Confidence: raw.Scores[i],
		})
	}
	result.Count = len(result.Detections)
	// The anomalous detections beyond the threshold remain in Detections too.
	// Anomalies is a flag on the tail, not a separate detection type.
	if result.Count > anomalyThreshold {
		result.Anomalies = result.Detections[anomalyThreshold:]
	}
	return result
}
