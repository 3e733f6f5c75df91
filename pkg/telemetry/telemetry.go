// Package telemetry defines the wire format of people-count telemetry:
// the record itself, the zlib+JSON body codec, the HTTP headers that frame
// a submission, and the durable fallback-log line format.
// Both the edge dispatcher and the collector import this package, so there
// is exactly one definition of the wire protocol.
package telemetry

import (
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
)

// HTTP headers on an ingest submission
const (
	HeaderDeviceID   = "X-Device-ID"
	HeaderRecordKind = "X-Record-Kind"
)

// Values of HeaderRecordKind
const (
	RecordKindBasic    = "basic"    // Record only
	RecordKindSnapshot = "snapshot" // Record plus an attached frame snapshot
)

// ContentEncoding is the value of the Content-Encoding header on an ingest body.
const ContentEncoding = "deflate"

// DefaultDeviceID is used by the collector when a submission carries no
// X-Device-ID header. A missing device id is never a reason to reject.
const DefaultDeviceID = "default_device"

// Record is one telemetry submission from an edge device.
// A Record is immutable once created. It is either transmitted to the
// collector, or persisted to the fallback log; never silently discarded
// (the sole exception is a fallback-write failure, which is logged).
type Record struct {
	DeviceID         string             `json:"deviceID,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
	Count            int                `json:"count"`
	Detections       []detect.Detection `json:"detections"`
	ProcessingTimeMS float64            `json:"processingTimeMS"`
	FrameSnapshot    []byte             `json:"frameSnapshot,omitempty"` // JPEG bytes, only on every Kth send
	FrameID          int64              `json:"frameID,omitempty"`
}
