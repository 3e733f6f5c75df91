package crowddb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *CrowdDB {
	t.Helper()
	db, err := Open(logs.NewTestingLog(t), dbh.MakeSqliteConfig(filepath.Join(t.TempDir(), "crowd.sqlite")))
	require.NoError(t, err)
	return db
}

func makeRecord(count int, ts time.Time) *telemetry.Record {
	rec := &telemetry.Record{
		Timestamp:        ts,
		Count:            count,
		ProcessingTimeMS: 42,
	}
	for i := 0; i < count; i++ {
		rec.Detections = append(rec.Detections, detect.Detection{
			Box:        detect.Rect{X1: i, Y1: 0, X2: i + 10, Y2: 20},
			Class:      detect.ClassPerson,
			Confidence: 0.8,
		})
	}
	return rec
}

func TestIngest(t *testing.T) {
	db := setup(t)
	ts := time.Now()

	require.NoError(t, db.Ingest(makeRecord(5, ts), IngestMeta{DeviceID: "cam1", IPAddress: "10.0.0.7"}))

	n, err := db.ObservationCount()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	device, err := db.GetDevice("cam1")
	require.NoError(t, err)
	require.NotNil(t, device)
	require.Equal(t, "10.0.0.7", device.IPAddress)

	// 5 people is not an anomaly
	anomalies, err := db.Anomalies("cam1", 0)
	require.NoError(t, err)
	require.Empty(t, anomalies)

	// Unknown device
	device, err = db.GetDevice("nosuch")
	require.NoError(t, err)
	require.Nil(t, device)
}

func TestIngestAnomaly(t *testing.T) {
	db := setup(t)
	ts := time.Now()

	require.NoError(t, db.Ingest(makeRecord(15, ts), IngestMeta{DeviceID: "cam1"}))
	require.NoError(t, db.Ingest(makeRecord(10, ts.Add(time.Second)), IngestMeta{DeviceID: "cam1"})) // at threshold: not an anomaly
	require.NoError(t, db.Ingest(makeRecord(11, ts.Add(2*time.Second)), IngestMeta{DeviceID: "cam1"}))

	anomalies, err := db.Anomalies("cam1", 0)
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	// Newest first
	require.Equal(t, 11, anomalies[0].Count)
	require.Equal(t, 15, anomalies[1].Count)
}

func TestDeviceUpsert(t *testing.T) {
	db := setup(t)
	ts := time.Now()

	require.NoError(t, db.Ingest(makeRecord(1, ts), IngestMeta{DeviceID: "cam1", IPAddress: "10.0.0.7"}))
	first, err := db.GetDevice("cam1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.Ingest(makeRecord(2, ts.Add(time.Second)), IngestMeta{DeviceID: "cam1", IPAddress: "10.0.0.99"}))
	second, err := db.GetDevice("cam1")
	require.NoError(t, err)

	require.Equal(t, "10.0.0.99", second.IPAddress)
	require.True(t, second.LastSeen.Get().After(first.LastSeen.Get()) || second.LastSeen == first.LastSeen)

	// Still one device row
	var devices []*Device
	require.NoError(t, db.db.Find(&devices).Error)
	require.Len(t, devices, 1)
}

func TestQuery(t *testing.T) {
	db := setup(t)
	now := time.Now()

	require.NoError(t, db.Ingest(makeRecord(10, now.Add(-2*time.Hour)), IngestMeta{DeviceID: "cam1"}))
	require.NoError(t, db.Ingest(makeRecord(20, now.Add(-time.Hour)), IngestMeta{DeviceID: "cam1"}))
	require.NoError(t, db.Ingest(makeRecord(30, now.Add(-time.Minute)), IngestMeta{DeviceID: "cam1"}))
	// Outside the window, and a different device: both excluded
	require.NoError(t, db.Ingest(makeRecord(99, now.Add(-30*time.Hour)), IngestMeta{DeviceID: "cam1"}))
	require.NoError(t, db.Ingest(makeRecord(77, now.Add(-time.Minute)), IngestMeta{DeviceID: "cam2"}))

	result, err := db.Query("cam1", 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, result.Stats.Samples)
	require.InDelta(t, 20.0, result.Stats.Average, 1e-9)
	require.Equal(t, 30, result.Stats.Max)
	require.Equal(t, 10, result.Stats.Min)

	// Newest first
	require.Equal(t, 30, result.Series[0].Count)
	require.Equal(t, 10, result.Series[2].Count)
	require.Len(t, result.Series[0].Detections, 30)
}

func TestQueryNoData(t *testing.T) {
	db := setup(t)
	_, err := db.Query("cam1", time.Hour)
	require.ErrorIs(t, err, ErrNoData)

	// Data exists, but not in the window
	require.NoError(t, db.Ingest(makeRecord(5, time.Now().Add(-2*time.Hour)), IngestMeta{DeviceID: "cam1"}))
	_, err = db.Query("cam1", time.Hour)
	require.ErrorIs(t, err, ErrNoData)
}

func TestInsertSyncedDedup(t *testing.T) {
	db := setup(t)
	ts := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	// One record was delivered live before the outage
	live := makeRecord(5, ts)
	require.NoError(t, db.Ingest(live, IngestMeta{DeviceID: "cam1"}))

	lines := []*telemetry.FallbackLine{
		{Timestamp: ts, Count: 5, Detections: live.Detections},         // duplicate of the live one
		{Timestamp: ts.Add(time.Second), Count: 5, Detections: nil},    // same count, different time
		{Timestamp: ts, Count: 6, Detections: nil},                     // same time, different count
	}
	inserted, skipped, err := db.InsertSynced("cam1", lines)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.Equal(t, 1, skipped)

	// Replaying the same upload again inserts nothing
	inserted, skipped, err = db.InsertSynced("cam1", lines)
	require.NoError(t, err)
	require.Equal(t, 0, inserted)
	require.Equal(t, 3, skipped)

	n, err := db.ObservationCount()
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestInsertSyncedOtherDeviceNotDuplicate(t *testing.T) {
	db := setup(t)
	ts := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	require.NoError(t, db.Ingest(makeRecord(5, ts), IngestMeta{DeviceID: "cam1"}))

	lines := []*telemetry.FallbackLine{{Timestamp: ts, Count: 5, Detections: makeRecord(5, ts).Detections}}
	inserted, skipped, err := db.InsertSynced("cam2", lines)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.Equal(t, 0, skipped)
}
