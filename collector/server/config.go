package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/dbh"
)

type Config struct {
	DB              dbh.DBConfig  `json:"db"`
	SnapshotStorage StorageConfig `json:"snapshotStorage"`

	// AnomalyThreshold must match the edge devices' configured threshold.
	// Divergence between the two sides is a configuration hazard, not a
	// feature. Zero means the shared default.
	AnomalyThreshold int `json:"anomalyThreshold"`

	// IngestRateLimit is requests per minute per IP on the ingest and resync
	// endpoints. Zero means the default.
	IngestRateLimit int `json:"ingestRateLimit"`
}

// One of the storage options may be configured (either 'filesystem' or 'gcs').
// With neither, snapshots are discarded on ingest.
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
}

// LoadConfig reads a JSON config file.
func LoadConfig(configFile string) (*Config, error) {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
	}
	return cfg, nil
}
