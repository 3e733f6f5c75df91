package crowddb

import (
	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Observation is one accepted telemetry record.
// The store is append-only: observations are never updated or deleted by the
// collector, and out-of-order timestamps are accepted as-is.
type Observation struct {
	BaseModel
	DeviceID         string                             `json:"deviceID"`
	Timestamp        dbh.IntTime                        `json:"timestamp"`
	Count            int                                `json:"count"`
	Detections       *dbh.JSONField[[]detect.Detection] `json:"detections"`
	ProcessingTimeMS float64                            `json:"processingTimeMS"`
	SnapshotRef      string                             `json:"snapshotRef,omitempty"` // Key into the blob store, when the record carried a frame snapshot
}

// Device is per-device liveness, upserted on every accepted record.
type Device struct {
	DeviceID  string      `gorm:"primaryKey" json:"deviceID"`
	LastSeen  dbh.IntTime `json:"lastSeen"`
	IPAddress string      `json:"ipAddress"`
	Location  string      `json:"location"`
}

// Anomaly is appended whenever an accepted record's count exceeds the
// threshold. The collector flags this itself, independent of what the edge
// device thought.
type Anomaly struct {
	BaseModel
	DeviceID  string      `json:"deviceID"`
	Count     int         `json:"count"`
	Timestamp dbh.IntTime `json:"timestamp"`
}

// DetectionsOf unwraps the JSON field, tolerating a null column.
func (o *Observation) DetectionsOf() []detect.Detection {
	if o.Detections == nil {
		return nil
	}
	return o.Detections.Data
}
