// Package detect defines the people detection data model, and the filter
// that turns raw object detector output into a DetectionResult.
// The object detector itself (model, accelerator) is behind the
// ObjectDetector interface, and is not part of this package.
package detect

import "time"

// DefaultScoreThreshold is the minimum confidence for a detection to be kept.
const DefaultScoreThreshold = 0.5

// DefaultAnomalyThreshold is the person count above which a frame is flagged
// as an anomaly. The edge dispatcher and the collector ingestor must agree on
// this value, so it is defined once, here.
const DefaultAnomalyThreshold = 10

// ClassPerson is the class index of "person" in the detector's class list.
const ClassPerson = 0

// Image is a decoded video frame.
// The frame is owned by the capture loop until it is handed to the monitor,
// and is never mutated after that.
type Image struct {
	NChan  int    // Number of channels (eg 3 for RGB)
	Pixels []byte // Width * Height * NChan bytes
	Width  int
	Height int
}

// Detection is a single detected person.
type Detection struct {
	Box        Rect    `json:"box"`
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
}

// Result is the post-processed output of running the detector on one frame.
// Invariants: Count == len(Detections), and Anomalies is Detections[threshold:]
// when Count exceeds the anomaly threshold, otherwise empty.
type Result struct {
	Count            int         `json:"count"`
	Detections       []Detection `json:"detections"`
	Anomalies        []Detection `json:"anomalies"`
	ProcessingTimeMS float64     `json:"processingTimeMS"`
	FramePTS         time.Time   `json:"framePTS"`
}

// RawOutput is what an SSD-style detector hands back: parallel slices of
// normalized boxes (ymin,xmin,ymax,xmax in 0..1), class indices, and scores.
type RawOutput struct {
	Boxes   [][4]float32
	Classes []int
	Scores  []float32
}

// ObjectDetector runs a neural network on a frame.
// Implementations may block for the duration of inference, and must be safe
// to call from a single goroutine at a time.
type ObjectDetector interface {
	// Close releases the model (C++ objects underneath, for some backends)
	Close()

	// Detect runs inference on an RGB image
	Detect(img Image) (RawOutput, error)
}
