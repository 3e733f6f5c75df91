package crowddb

import (
	"bytes"
	"encoding/json"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/dbh"
	"gorm.io/gorm"
)

// InsertSynced replays fallback-log lines into the observation store,
// skipping exact duplicates.
//
// There is no record identity key on the wire, so "duplicate" means content
// equality: same device, timestamp, count, and detections. A row that was
// already delivered live and is now replayed matches on all four and is
// skipped; anything else is inserted. This is best-effort dedup, not
// exactly-once delivery.
func (c *CrowdDB) InsertSynced(deviceID string, lines []*telemetry.FallbackLine) (inserted, skipped int, err error) {
	err = c.db.Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			det := line.Detections
			if det == nil {
				det = []detect.Detection{}
			}
			detJSON, err := json.Marshal(det)
			if err != nil {
				return err
			}
			dup, err := isDuplicate(tx, deviceID, line, detJSON)
			if err != nil {
				return err
			}
			if dup {
				skipped++
				continue
			}
			obs := &Observation{
				DeviceID:   deviceID,
				Timestamp:  dbh.MakeIntTime(line.Timestamp),
				Count:      line.Count,
				Detections: dbh.MakeJSONField(line.Detections),
			}
			if err := tx.Create(obs).Error; err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, skipped, nil
}

func isDuplicate(tx *gorm.DB, deviceID string, line *telemetry.FallbackLine, detJSON []byte) (bool, error) {
	var candidates []*Observation
	err := tx.
		Where("device_id = ? AND timestamp = ? AND count = ?", deviceID, dbh.MakeIntTime(line.Timestamp), line.Count).
		Find(&candidates).Error
	if err != nil {
		return false, err
	}
	for _, cand := range candidates {
		det := cand.DetectionsOf()
		if det == nil {
			det = []detect.Detection{}
		}
		candJSON, err := json.Marshal(det)
		if err != nil {
			return false, err
		}
		if bytes.Equal(candJSON, detJSON) {
			return true, nil
		}
	}
	return false, nil
}
