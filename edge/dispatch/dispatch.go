// Package dispatch decides when to transmit telemetry to the collector,
// performs the compressed send on a single background worker, and falls back
// to a durable local log when the collector is unreachable.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/logs"
)

// Defaults for Config
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendTimeout       = 3 * time.Second
	DefaultPingInterval      = 60 * time.Second
	DefaultSnapshotEvery     = 10
)

type Config struct {
	CollectorURL      string        // eg "http://collector:8085"
	DeviceID          string
	HeartbeatInterval time.Duration // Send at least this often, even without anomalies. 0 means default.
	SendTimeout       time.Duration // Timeout on a single transmission. 0 means default.
	PingInterval      time.Duration // Connectivity check cadence. 0 means default, negative disables.
	AnomalyThreshold  int           // 0 means detect.DefaultAnomalyThreshold
	SnapshotEvery     int           // Attach a frame snapshot to every Kth triggered send. 0 means default, negative disables.
	FallbackPath      string        // Fallback log file
}

// Counters are cumulative dispatch statistics, for observability.
type Counters struct {
	Sent             int64 `json:"sent"`
	Failed           int64 `json:"failed"`
	DroppedBusy      int64 `json:"droppedBusy"` // Triggers dropped because a send was already in flight
	FallbackWrites   int64 `json:"fallbackWrites"`
	FallbackFailures int64 `json:"fallbackFailures"` // The sole silent-data-loss path
}

// Dispatcher owns outbound telemetry. At most one transmission is in flight
// at any moment: a trigger that fires while the worker is busy is dropped
// from transmission (it remains visible in local statistics). We prefer a
// timely feed over a complete one.
type Dispatcher struct {
	log      logs.Log
	cfg      Config
	client   *http.Client
	fallback *FallbackLog

	// sendQueue is the single-slot task queue. It is unbuffered: a
	// non-blocking send succeeds only while the worker is idle, so the
	// channel handoff is also the at-most-one-in-flight gate.
	sendQueue  chan *telemetry.Record
	shutdown   chan bool
	workerDone chan bool
	pingerDone chan bool

	// Guards lastSendAt and sendSeq. Held only to read/update the trigger
	// state, never across I/O.
	triggerLock sync.Mutex
	lastSendAt  time.Time
	sendSeq     int64

	// Last-known connectivity, informational only. Never gates the trigger.
	connLock      sync.Mutex
	connOK        bool
	connCheckedAt time.Time

	sent             atomic.Int64
	failed           atomic.Int64
	droppedBusy      atomic.Int64
	fallbackWrites   atomic.Int64
	fallbackFailures atomic.Int64
}

func NewDispatcher(log logs.Log, cfg Config) *Dispatcher {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.AnomalyThreshold == 0 {
		cfg.AnomalyThreshold = detect.DefaultAnomalyThreshold
	}
	if cfg.SnapshotEvery == 0 {
		cfg.SnapshotEvery = DefaultSnapshotEvery
	}
	d := &Dispatcher{
		log:        logs.NewPrefixLogger(log, "Dispatcher"),
		cfg:        cfg,
		client:     &http.Client{},
		fallback:   NewFallbackLog(log, cfg.FallbackPath),
		sendQueue:  make(chan *telemetry.Record),
		shutdown:   make(chan bool),
		workerDone: make(chan bool),
		pingerDone: make(chan bool),
	}
	go d.worker()
	if cfg.PingInterval > 0 {
		go d.pinger()
	} else {
		close(d.pingerDone)
	}
	return d
}

// Stop shuts the dispatcher down. An in-flight transmission is not
// cancelled; the worker is left to complete or time out on its own, so
// stopping the pipeline never blocks on the network.
func (d *Dispatcher) Stop() {
	close(d.shutdown)
}

// Fallback returns the durable fallback log.
func (d *Dispatcher) Fallback() *FallbackLog {
	return d.fallback
}

// Counters returns a snapshot of the cumulative counters.
func (d *Dispatcher) Counters() Counters {
	return Counters{
		Sent:             d.sent.Load(),
		Failed:           d.failed.Load(),
		DroppedBusy:      d.droppedBusy.Load(),
		FallbackWrites:   d.fallbackWrites.Load(),
		FallbackFailures: d.fallbackFailures.Load(),
	}
}

// Connectivity returns the last known connectivity state and when it was
// observed. This is purely informational.
func (d *Dispatcher) Connectivity() (ok bool, checkedAt time.Time) {
	d.connLock.Lock()
	defer d.connLock.Unlock()
	return d.connOK, d.connCheckedAt
}

// Observe evaluates the send trigger for one processed frame. This is the
// only trigger evaluation for that frame. snapshot returns the current frame
// as JPEG; it is only invoked for every Kth triggered send, so the caller
// doesn't pay for encoding frames that won't carry one. nil disables snapshots.
func (d *Dispatcher) Observe(result *detect.Result, snapshot func() []byte, frameID int64) {
	now := time.Now()

	d.triggerLock.Lock()
	trigger := result.Count > d.cfg.AnomalyThreshold || now.Sub(d.lastSendAt) >= d.cfg.HeartbeatInterval
	if !trigger {
		d.triggerLock.Unlock()
		return
	}
	d.lastSendAt = now
	d.sendSeq++
	attachSnapshot := d.cfg.SnapshotEvery > 0 && (d.sendSeq-1)%int64(d.cfg.SnapshotEvery) == 0
	d.triggerLock.Unlock()

	rec := &telemetry.Record{
		DeviceID:         d.cfg.DeviceID,
		Timestamp:        now.UTC(),
		Count:            result.Count,
		Detections:       result.Detections,
		ProcessingTimeMS: result.ProcessingTimeMS,
		FrameID:          frameID,
	}
	if attachSnapshot && snapshot != nil {
		rec.FrameSnapshot = snapshot()
	}

	// Try-enqueue, failing fast if the worker is busy with another send.
	select {
	case d.sendQueue <- rec:
	default:
		d.droppedBusy.Add(1)
	}
}

func (d *Dispatcher) worker() {
	defer close(d.workerDone)
	for {
		select {
		case <-d.shutdown:
			return
		case rec := <-d.sendQueue:
			if err := d.send(rec); err != nil {
				d.failed.Add(1)
				d.log.Warnf("Send failed (%v), persisting record to fallback log", err)
				d.persistFallback(rec)
			} else {
				d.sent.Add(1)
			}
		}
	}
}

// send performs one transmission. Any transport error, timeout, or non-200
// status is a failure; they are all treated identically.
func (d *Dispatcher) send(rec *telemetry.Record) error {
	body, err := telemetry.Compress(rec)
	if err != nil {
		return fmt.Errorf("Failed to encode record: %w", err)
	}
	kind := telemetry.RecordKindBasic
	if len(rec.FrameSnapshot) != 0 {
		kind = telemetry.RecordKindSnapshot
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", d.cfg.CollectorURL+"/api/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", telemetry.ContentEncoding)
	req.Header.Set(telemetry.HeaderDeviceID, d.cfg.DeviceID)
	req.Header.Set(telemetry.HeaderRecordKind, kind)
	resp, err := d.client.Do(req)
	if err != nil {
		d.setConnectivity(false)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.setConnectivity(false)
		return fmt.Errorf("Collector returned %v", resp.Status)
	}
	d.setConnectivity(true)
	return nil
}

// persistFallback appends the record to the fallback log. A fallback-write
// failure drops the record; this is the one place where committed telemetry
// can be lost, and it is logged loudly rather than retried forever.
func (d *Dispatcher) persistFallback(rec *telemetry.Record) {
	// The snapshot is not written into the log; the log stays line-oriented
	// and inspectable. A record that carried one records that fact only.
	snapshotRef := ""
	if len(rec.FrameSnapshot) != 0 {
		snapshotRef = fmt.Sprintf("dropped-%v", rec.Timestamp.UnixMilli())
	}
	if err := d.fallback.Append(rec, snapshotRef); err != nil {
		d.fallbackFailures.Add(1)
		d.log.Errorf("Fallback write failed, record lost (count=%v, timestamp=%v): %v", rec.Count, rec.Timestamp, err)
		return
	}
	d.fallbackWrites.Add(1)
}

func (d *Dispatcher) setConnectivity(ok bool) {
	d.connLock.Lock()
	d.connOK = ok
	d.connCheckedAt = time.Now()
	d.connLock.Unlock()
}

// pinger periodically checks the collector's liveness endpoint and updates
// the connectivity flag.
func (d *Dispatcher) pinger() {
	defer close(d.pingerDone)
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
			req, err := http.NewRequestWithContext(ctx, "GET", d.cfg.CollectorURL+"/api/ping", nil)
			if err != nil {
				cancel()
				continue
			}
			resp, err := d.client.Do(req)
			if err != nil {
				d.setConnectivity(false)
			} else {
				resp.Body.Close()
				d.setConnectivity(resp.StatusCode == http.StatusOK)
			}
			cancel()
		}
	}
}
