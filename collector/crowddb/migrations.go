package crowddb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE observation(
			id INTEGER PRIMARY KEY,
			device_id TEXT NOT NULL,
			timestamp INT NOT NULL,
			count INT NOT NULL,
			detections BLOB,
			processing_time_ms REAL NOT NULL DEFAULT 0,
			snapshot_ref TEXT
		);

		CREATE TABLE device(
			device_id TEXT PRIMARY KEY,
			last_seen INT NOT NULL,
			ip_address TEXT,
			location TEXT
		);

		CREATE TABLE anomaly(
			id INTEGER PRIMARY KEY,
			device_id TEXT NOT NULL,
			count INT NOT NULL,
			timestamp INT NOT NULL
		);

	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_observation_device_id_timestamp ON observation(device_id, timestamp);
		CREATE INDEX idx_anomaly_device_id ON anomaly(device_id);
	`))

	return migs
}
