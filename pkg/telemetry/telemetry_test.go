package telemetry

import (
	"testing"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	return &Record{
		Timestamp: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		Count:     12,
		Detections: []detect.Detection{
			{Box: detect.Rect{X1: 10, Y1: 20, X2: 110, Y2: 220}, Class: detect.ClassPerson, Confidence: 0.93},
			{Box: detect.Rect{X1: 300, Y1: 40, X2: 380, Y2: 200}, Class: detect.ClassPerson, Confidence: 0.71},
		},
		ProcessingTimeMS: 48.5,
	}
}

func TestCodecRoundtrip(t *testing.T) {
	rec := testRecord()
	body, err := Compress(rec)
	require.NoError(t, err)
	back, err := Decompress(body)
	require.NoError(t, err)
	require.Equal(t, rec, back)
}

func TestDecompressGarbage(t *testing.T) {
	_, err := Decompress([]byte("not zlib at all"))
	require.Error(t, err)
	_, err = Decompress(nil)
	require.Error(t, err)
}

func TestHasFields(t *testing.T) {
	// A zero count is present, and must not read as absent
	raw := []byte(`{"count":0,"timestamp":"2025-03-10T14:30:00Z"}`)
	require.True(t, HasFields(raw, "count", "timestamp"))
	require.False(t, HasFields(raw, "count", "timestamp", "detections"))
	require.False(t, HasFields([]byte(`{"count":5}`), "count", "timestamp"))
	require.False(t, HasFields([]byte(`garbage`), "count"))
}

func TestFallbackLineRoundtrip(t *testing.T) {
	rec := testRecord()
	line, err := EncodeFallbackLine(rec, "snap/dev1/1741617000000.jpg")
	require.NoError(t, err)

	parsed, err := ParseFallbackLine(line)
	require.NoError(t, err)
	require.True(t, parsed.Timestamp.Equal(rec.Timestamp))
	require.Equal(t, rec.Count, parsed.Count)
	require.Equal(t, rec.Detections, parsed.Detections)
	require.Equal(t, "snap/dev1/1741617000000.jpg", parsed.SnapshotRef)
}

func TestFallbackLineNoSnapshot(t *testing.T) {
	rec := testRecord()
	rec.Detections = nil
	line, err := EncodeFallbackLine(rec, "")
	require.NoError(t, err)

	parsed, err := ParseFallbackLine(line)
	require.NoError(t, err)
	require.Equal(t, SnapshotRefNone, parsed.SnapshotRef)
	require.Empty(t, parsed.Detections)
}

func TestFallbackLineRejectsBadSnapshotRef(t *testing.T) {
	rec := testRecord()
	_, err := EncodeFallbackLine(rec, "has,comma")
	require.Error(t, err)
	_, err = EncodeFallbackLine(rec, "has\nnewline")
	require.Error(t, err)
}

func TestParseFallbackLineCorrupt(t *testing.T) {
	cases := []string{
		"",
		"2025-03-10T14:30:00Z",
		"2025-03-10T14:30:00Z,5",
		"not-a-time,5,[],null",
		"2025-03-10T14:30:00Z,notanumber,[],null",
		"2025-03-10T14:30:00Z,5,{broken json,null",
	}
	for _, c := range cases {
		_, err := ParseFallbackLine(c)
		require.Error(t, err, "line %q", c)
	}
}
