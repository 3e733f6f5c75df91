package crowddb

import (
	"errors"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/dbh"
)

// ErrNoData is returned by Query when the window holds no observations.
// This is a normal outcome, not a failure; API layers turn it into an
// explicit "no data" response.
var ErrNoData = errors.New("no data in window")

type SeriesPoint struct {
	Timestamp  dbh.IntTime        `json:"timestamp"`
	Count      int                `json:"count"`
	Detections []detect.Detection `json:"detections"`
}

// WindowStats are computed over the filtered set only.
type WindowStats struct {
	Average float64 `json:"average"`
	Max     int     `json:"max"`
	Min     int     `json:"min"`
	Samples int     `json:"samples"`
}

type QueryResult struct {
	Series []SeriesPoint `json:"series"` // Newest first
	Stats  WindowStats   `json:"stats"`
}

// Query returns the time series and summary statistics of a device over the
// given window. The window's lower bound (now - window) is inclusive.
func (c *CrowdDB) Query(deviceID string, window time.Duration) (*QueryResult, error) {
	lowerBound := dbh.MakeIntTime(time.Now().Add(-window))
	var observations []*Observation
	err := c.db.
		Where("device_id = ? AND timestamp >= ?", deviceID, lowerBound).
		Order("timestamp DESC").
		Find(&observations).Error
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, ErrNoData
	}
	result := &QueryResult{
		Series: make([]SeriesPoint, 0, len(observations)),
		Stats: WindowStats{
			Samples: len(observations),
			Min:     observations[0].Count,
			Max:     observations[0].Count,
		},
	}
	sum := 0
	for _, obs := range observations {
		result.Series = append(result.Series, SeriesPoint{
			Timestamp:  obs.Timestamp,
			Count:      obs.Count,
			Detections: obs.DetectionsOf(),
		})
		sum += obs.Count
		if obs.Count > result.Stats.Max {
			result.Stats.Max = obs.Count
		}
		if obs.Count < result.Stats.Min {
			result.Stats.Min = obs.Count
		}
	}
	result.Stats.Average = float64(sum) / float64(len(observations))
	return result, nil
}
