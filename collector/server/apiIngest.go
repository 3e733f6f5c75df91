package server

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"

	"github.com/cyclopcam/crowdsense/collector/crowddb"
	"github.com/cyclopcam/crowdsense/collector/storage"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/www"
)

const maxIngestBodyBytes = 64 * 1024 * 1024

// httpIngest accepts one compressed telemetry record from an edge device.
// Malformed or incomplete payloads are rejected with a 400 and no state
// change; storage failures surface as a 500, which the device treats like a
// network failure (it falls back to its local log and may resync later).
func (s *Server) httpIngest(w http.ResponseWriter, r *http.Request) {
	body := www.ReadLimited(w, r, maxIngestBodyBytes)
	raw, err := telemetry.DecompressRaw(body)
	www.CheckClient(err)
	// Required fields are validated on the raw JSON, because a zero count is
	// a legitimate value and must not read as "absent".
	if !telemetry.HasFields(raw, "count", "timestamp") {
		www.PanicBadRequestf("Missing required fields (count, timestamp)")
	}
	rec := &telemetry.Record{}
	www.CheckClient(json.Unmarshal(raw, rec))

	deviceID := r.Header.Get(telemetry.HeaderDeviceID)
	if deviceID == "" {
		// A missing device id is never a reason to reject
		deviceID = telemetry.DefaultDeviceID
	}

	snapshotRef := ""
	if r.Header.Get(telemetry.HeaderRecordKind) == telemetry.RecordKindSnapshot && len(rec.FrameSnapshot) != 0 && s.snapshots != nil {
		// The snapshot goes to the blob store before the DB transaction, so
		// a stored observation never references a blob that failed to write.
		// The converse (orphaned blob after a failed ingest) is harmless.
		key := storage.SnapshotKey(deviceID, rec.Timestamp.UnixMilli())
		www.Check(storage.WriteFile(s.snapshots, key, bytes.NewReader(rec.FrameSnapshot)))
		snapshotRef = key
	}

	meta := crowddb.IngestMeta{
		DeviceID:         deviceID,
		IPAddress:        requestIP(r),
		SnapshotRef:      snapshotRef,
		AnomalyThreshold: s.anomalyThreshold,
	}
	www.Check(s.DB.Ingest(rec, meta))

	s.live.broadcastObservation(deviceID, rec, rec.Count > s.anomalyThreshold)

	type statusJSON struct {
		Status string `json:"status"`
	}
	www.SendJSON(w, &statusJSON{Status: "success"})
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
