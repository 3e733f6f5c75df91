package server

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"

	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/www"
)

const maxResyncBodyBytes = 256 * 1024 * 1024

// httpResync accepts a device's fallback log (one line per observation that
// failed to send live) and replays it into the database. Lines that are
// already present are skipped, so a device can safely upload the same log
// more than once.
func (s *Server) httpResync(w http.ResponseWriter, r *http.Request) {
	body := www.ReadLimited(w, r, maxResyncBodyBytes)

	deviceID := r.Header.Get(telemetry.HeaderDeviceID)
	if deviceID == "" {
		deviceID = telemetry.DefaultDeviceID
	}

	lines := []*telemetry.FallbackLine{}
	processed := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		processed++
		line, err := telemetry.ParseFallbackLine(text)
		if err != nil {
			s.Log.Warnf("Resync from %v: skipping corrupt line: %v", deviceID, err)
			continue
		}
		lines = append(lines, line)
	}
	www.CheckClient(scanner.Err())

	inserted, skipped, err := s.DB.InsertSynced(deviceID, lines)
	www.Check(err)
	// Lines that didn't parse count as skipped too
	skipped += processed - len(lines)

	s.Log.Infof("Resync from %v: %v processed, %v inserted, %v skipped", deviceID, processed, inserted, skipped)

	type resyncJSON struct {
		RowsProcessed int `json:"rowsProcessed"`
		RowsInserted  int `json:"rowsInserted"`
		RowsSkipped   int `json:"rowsSkipped"`
	}
	www.SendJSON(w, &resyncJSON{
		RowsProcessed: processed,
		RowsInserted:  inserted,
		RowsSkipped:   skipped,
	})
}
