package telemetry

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
)

// maxBodySize bounds how much we'll decompress, so that a corrupt or
// malicious body can't balloon into unbounded memory.
const maxBodySize = 32 * 1024 * 1024

// Compress serializes a record to JSON and compresses it with zlib.
func Compress(rec *Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	buf := bytes.Buffer{}
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressRaw inflates a compressed body into the underlying JSON bytes.
func DecompressRaw(body []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Failed to decompress telemetry body: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("Failed to decompress telemetry body: %w", err)
	}
	return raw, nil
}

// Decompress is the inverse of Compress.
func Decompress(body []byte) (*Record, error) {
	raw, err := DecompressRaw(body)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("Failed to parse telemetry body: %w", err)
	}
	return rec, nil
}

// HasFields reports whether the given top-level JSON fields are all present.
// The collector validates required fields on this form, because unmarshalling
// into Record can't distinguish "absent" from "zero".
func HasFields(raw []byte, fields ...string) bool {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			return false
		}
	}
	return true
}
