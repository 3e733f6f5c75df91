package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/telemetry"
)

// resyncTimeout is deliberately much longer than the per-record send timeout,
// because the log can hold hours of backlog.
const resyncTimeout = 60 * time.Second

// ResyncResult is the collector's summary of a fallback-log upload.
type ResyncResult struct {
	RowsProcessed int `json:"rowsProcessed"`
	RowsInserted  int `json:"rowsInserted"`
	RowsSkipped   int `json:"rowsSkipped"` // Exact duplicates of rows already stored
}

// Resync uploads the fallback log to the collector, and truncates the log if
// the collector accepted it. An empty or absent log is a no-op.
// Replay is not exactly-once: the collector skips rows it recognizes as exact
// duplicates, but a row that was altered in transit earlier may be stored twice.
func (d *Dispatcher) Resync() (*ResyncResult, error) {
	raw, err := d.fallback.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("Failed to read fallback log: %w", err)
	}
	if len(raw) == 0 {
		return &ResyncResult{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", d.cfg.CollectorURL+"/api/resync", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set(telemetry.HeaderDeviceID, d.cfg.DeviceID)
	resp, err := d.client.Do(req)
	if err != nil {
		d.setConnectivity(false)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.setConnectivity(false)
		return nil, fmt.Errorf("Collector returned %v", resp.Status)
	}
	d.setConnectivity(true)
	result := &ResyncResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("Failed to parse resync response: %w", err)
	}
	d.log.Infof("Resync complete: %v rows processed, %v inserted, %v duplicates skipped", result.RowsProcessed, result.RowsInserted, result.RowsSkipped)
	// Truncate only what we uploaded. A record that a failed send persisted
	// while the upload was in flight stays in the log.
	if err := d.fallback.Truncate(int64(len(raw))); err != nil {
		return result, fmt.Errorf("Resync succeeded but failed to truncate fallback log: %w", err)
	}
	return result, nil
}
