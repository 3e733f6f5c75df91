package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/crowdsense/edge/dispatch"
	"github.com/cyclopcam/crowdsense/edge/monitor"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

// Config is the edge device's JSON config file. A missing file is not an
// error: every field has a usable default, and the DeviceID gets generated
// and written back on first run, so the device keeps its identity across
// restarts.
type Config struct {
	CollectorURL     string `json:"collectorUrl"`
	DeviceID         string `json:"deviceId"`
	AnomalyThreshold int    `json:"anomalyThreshold"` // 0 means the shared default
	Constrained      bool   `json:"constrained"`      // Low-compute device: process 1 in 3 frames
	FallbackPath     string `json:"fallbackPath"`
	HeartbeatSeconds int    `json:"heartbeatSeconds"` // 0 means the default (30)
	SnapshotEvery    int    `json:"snapshotEvery"`    // 0 means the default, negative disables
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	changed := false
	if cfg.CollectorURL == "" {
		cfg.CollectorURL = "http://localhost:8085"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		changed = true
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = filepath.Join(filepath.Dir(path), "fallback_log.txt")
	}
	if changed {
		if err := saveConfig(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func saveConfig(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

func main() {
	parser := argparse.NewParser("crowdedge", "Edge node for crowd telemetry: detect people in video frames and relay counts to the collector")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "crowdedge.json"})
	replayFilePath := parser.String("r", "replay", &argparse.Options{Help: "Detection replay file (JSON lines of raw detector output)", Default: ""})
	fps := parser.Int("", "fps", &argparse.Options{Help: "Frame rate of the replay", Default: 10})
	resync := parser.Flag("", "resync", &argparse.Options{Help: "Upload the fallback log to the collector and exit", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFilePath)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	logger.Infof("Device %v, collector %v", cfg.DeviceID, cfg.CollectorURL)

	dispatcher := dispatch.NewDispatcher(logger, dispatch.Config{
		CollectorURL:      cfg.CollectorURL,
		DeviceID:          cfg.DeviceID,
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		AnomalyThreshold:  cfg.AnomalyThreshold,
		SnapshotEvery:     cfg.SnapshotEvery,
		FallbackPath:      cfg.FallbackPath,
	})

	if *resync {
		result, err := dispatcher.Resync()
		if err != nil {
			logger.Errorf("Resync failed: %v", err)
			dispatcher.Stop()
			os.Exit(1)
		}
		logger.Infof("Resync complete: %v processed, %v inserted, %v skipped", result.RowsProcessed, result.RowsInserted, result.RowsSkipped)
		dispatcher.Stop()
		return
	}

	if *replayFilePath == "" {
		fmt.Print(parser.Usage("--replay is required unless running --resync"))
		dispatcher.Stop()
		os.Exit(1)
	}

	source, detector, err := openReplay(*replayFilePath, *fps)
	if err != nil {
		logger.Errorf("Failed to open replay %v: %v", *replayFilePath, err)
		os.Exit(1)
	}

	mon := monitor.NewMonitor(logger, detector, source, dispatcher, monitor.Options{
		AnomalyThreshold: cfg.AnomalyThreshold,
		Constrained:      cfg.Constrained,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Infof("Received OS signal '%v', shutting down", s.String())
		mon.Stop()
		dispatcher.Stop()
		logger.Close()
		os.Exit(0)
	}()

	// The monitor owns the frame loop; wait for the replay to run out.
	source.WaitEOF()
	stats := mon.Statistics()
	mon.Stop()
	dispatcher.Stop()
	logger.Infof("Replay finished. Mean count %.1f over %v samples, %v anomalies", stats.MeanCount, stats.Samples, stats.AnomalyTotal)
	logger.Close()
}
