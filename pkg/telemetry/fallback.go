package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
)

// The fallback log is the durable local record of telemetry that failed live
// transmission. One line per failed send:
//
//	timestamp,count,detections(JSON),snapshot-reference-or-"null"
//
// The detections JSON contains commas, so parsing splits off the first two
// fields, and then the snapshot reference after the last comma. The snapshot
// reference itself never contains a comma.

// SnapshotRefNone is the snapshot field of a record that carried no snapshot.
const SnapshotRefNone = "null"

// FallbackLine is one parsed line of the fallback log.
type FallbackLine struct {
	Timestamp   time.Time
	Count       int
	Detections  []detect.Detection
	SnapshotRef string
}

// EncodeFallbackLine formats a record as a fallback-log line (no trailing newline).
func EncodeFallbackLine(rec *Record, snapshotRef string) (string, error) {
	if snapshotRef == "" {
		snapshotRef = SnapshotRefNone
	}
	if strings.ContainsAny(snapshotRef, ",\n") {
		return "", fmt.Errorf("Invalid snapshot reference '%v'", snapshotRef)
	}
	det := rec.Detections
	if det == nil {
		det = []detect.Detection{}
	}
	detJSON, err := json.Marshal(det)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v,%v,%v,%v", rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Count, string(detJSON), snapshotRef), nil
}

// ParseFallbackLine is the inverse of EncodeFallbackLine.
func ParseFallbackLine(line string) (*FallbackLine, error) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("Invalid fallback line: expected at least 4 fields")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("Invalid fallback line timestamp '%v': %w", parts[0], err)
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("Invalid fallback line count '%v': %w", parts[1], err)
	}
	tail := parts[2]
	lastComma := strings.LastIndex(tail, ",")
	if lastComma == -1 {
		return nil, fmt.Errorf("Invalid fallback line: missing snapshot reference")
	}
	detJSON := tail[:lastComma]
	snapshotRef := tail[lastComma+1:]
	detections := []detect.Detection{}
	if err := json.Unmarshal([]byte(detJSON), &detections); err != nil {
		return nil, fmt.Errorf("Invalid fallback line detections: %w", err)
	}
	return &FallbackLine{
		Timestamp:   ts,
		Count:       count,
		Detections:  detections,
		SnapshotRef: snapshotRef,
	}, nil
}
