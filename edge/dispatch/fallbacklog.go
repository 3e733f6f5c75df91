package dispatch

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/logs"
)

// FallbackLog is the durable local append-only log of telemetry records that
// failed live transmission. The format is one CSV-ish line per record
// (see pkg/telemetry), human-inspectable with less/grep.
//
// A single lock serializes appends, reads and truncation, so the resync
// worker and the dispatch worker can't corrupt the file between them.
type FallbackLog struct {
	log  logs.Log
	path string
	lock sync.Mutex
}

func NewFallbackLog(log logs.Log, path string) *FallbackLog {
	return &FallbackLog{
		log:  log,
		path: path,
	}
}

func (f *FallbackLog) Path() string {
	return f.path
}

// Append writes one record to the log.
func (f *FallbackLog) Append(rec *telemetry.Record, snapshotRef string) error {
	line, err := telemetry.EncodeFallbackLine(rec, snapshotRef)
	if err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("Failed to open fallback log '%v': %w", f.path, err)
	}
	_, err = file.WriteString(line + "\n")
	errClose := file.Close()
	if err != nil {
		return fmt.Errorf("Failed to append to fallback log '%v': %w", f.path, err)
	}
	return errClose
}

// ReadAll parses every line of the log. Unparseable lines are logged and
// skipped, so one corrupt line can't wedge a resync forever.
func (f *FallbackLog) ReadAll() ([]*telemetry.FallbackLine, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer file.Close()
	lines := []*telemetry.FallbackLine{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		line, err := telemetry.ParseFallbackLine(scanner.Text())
		if err != nil {
			f.log.Warnf("Skipping corrupt fallback log line: %v", err)
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Snapshot returns the raw file contents, for uploading to the collector's
// resync endpoint. Returns nil if the log is empty or absent.
func (f *FallbackLog) Snapshot() ([]byte, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return raw, err
}

// Truncate discards the first n bytes of the log, after a successful resync
// of exactly those bytes. The lock is not held across the upload, so the
// dispatch worker may have appended records in the meantime; those stay in
// the log for the next resync.
func (f *FallbackLog) Truncate(n int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	if int64(len(raw)) <= n {
		err := os.Remove(f.path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(f.path, raw[n:], 0600)
}
