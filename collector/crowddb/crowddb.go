// Package crowddb is the collector's persistent store of crowd telemetry:
// observations, device liveness, and anomalies.
package crowddb

import (
	"fmt"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CrowdDB owns all server-side crowd telemetry state. The handle is created
// once and injected into whoever needs it; there is no ambient shared
// connection.
type CrowdDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open opens or creates the database, running migrations.
func Open(log logs.Log, config dbh.DBConfig) (*CrowdDB, error) {
	logger := logs.NewPrefixLogger(log, "CrowdDB")
	db, err := dbh.OpenDB(logger, config, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open crowd database: %w", err)
	}
	return &CrowdDB{
		log: logger,
		db:  db,
	}, nil
}

// IngestMeta is the request-scoped context of an accepted record.
type IngestMeta struct {
	DeviceID         string
	IPAddress        string
	SnapshotRef      string
	AnomalyThreshold int // 0 means detect.DefaultAnomalyThreshold
}

// Ingest durably stores one accepted record: the observation row, the device
// liveness upsert, and (when the count exceeds the threshold) an anomaly row.
// All three writes happen in one transaction; a partially-applied ingest is
// never observable.
func (c *CrowdDB) Ingest(rec *telemetry.Record, meta IngestMeta) error {
	threshold := meta.AnomalyThreshold
	if threshold == 0 {
		threshold = detect.DefaultAnomalyThreshold
	}
	det := rec.Detections
	if det == nil {
		det = []detect.Detection{}
	}
	obs := &Observation{
		DeviceID:         meta.DeviceID,
		Timestamp:        dbh.MakeIntTime(rec.Timestamp),
		Count:            rec.Count,
		Detections:       dbh.MakeJSONField(det),
		ProcessingTimeMS: rec.ProcessingTimeMS,
		SnapshotRef:      meta.SnapshotRef,
	}
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(obs).Error; err != nil {
			return err
		}
		device := &Device{
			DeviceID:  meta.DeviceID,
			LastSeen:  dbh.MakeIntTime(time.Now()),
			IPAddress: meta.IPAddress,
		}
		upsert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seen", "ip_address"}),
		})
		if err := upsert.Create(device).Error; err != nil {
			return err
		}
		if rec.Count > threshold {
			anomaly := &Anomaly{
				DeviceID:  meta.DeviceID,
				Count:     rec.Count,
				Timestamp: dbh.MakeIntTime(rec.Timestamp),
			}
			if err := tx.Create(anomaly).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ObservationCount returns the total number of observation rows (all devices).
func (c *CrowdDB) ObservationCount() (int64, error) {
	n := int64(0)
	err := c.db.Model(&Observation{}).Count(&n).Error
	return n, err
}

// GetDevice fetches a device's liveness row, or nil if we've never heard
// from it.
func (c *CrowdDB) GetDevice(deviceID string) (*Device, error) {
	device := &Device{}
	err := c.db.First(device, "device_id = ?", deviceID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return device, nil
}

// Anomalies returns the anomaly rows of a device, newest first.
func (c *CrowdDB) Anomalies(deviceID string, limit int) ([]*Anomaly, error) {
	var anomalies []*Anomaly
	q := c.db.Where("device_id = ?", deviceID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&anomalies).Error; err != nil {
		return nil, err
	}
	return anomalies, nil
}
