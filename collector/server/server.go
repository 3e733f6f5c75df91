// Package server is the collector: it ingests compressed telemetry
// submissions from edge devices, stores them durably, and answers
// time-series queries over the stored data.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/crowdsense/collector/crowddb"
	"github.com/cyclopcam/crowdsense/collector/storage"
	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

const defaultIngestRateLimit = 600 // requests per minute per IP

type Server struct {
	Log logs.Log
	DB  *crowddb.CrowdDB

	anomalyThreshold int
	ingestRateLimit  int
	snapshots        storage.Storage // nil means snapshots are discarded
	live             *liveFeed

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
}

// NewServer opens the database and blob store described by the config file.
func NewServer(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	return NewServerFromConfig(logger, cfg)
}

// NewServerFromConfig builds a Server around an explicit logger and config.
// Tests use this with a temp sqlite DB.
func NewServerFromConfig(logger logs.Log, cfg *Config) (*Server, error) {
	db, err := crowddb.Open(logger, cfg.DB)
	if err != nil {
		return nil, err
	}

	var snapshots storage.Storage
	if cfg.SnapshotStorage.GCS != nil {
		snapshots, err = storage.NewStorageGCS(logger, cfg.SnapshotStorage.GCS.Bucket)
		if err != nil {
			return nil, err
		}
	} else if cfg.SnapshotStorage.Filesystem != nil {
		snapshots, err = storage.NewStorageFS(logger, cfg.SnapshotStorage.Filesystem.Root)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Infof("No snapshot storage configured; frame snapshots will be discarded")
	}

	anomalyThreshold := cfg.AnomalyThreshold
	if anomalyThreshold == 0 {
		anomalyThreshold = detect.DefaultAnomalyThreshold
	}
	ingestRateLimit := cfg.IngestRateLimit
	if ingestRateLimit == 0 {
		ingestRateLimit = defaultIngestRateLimit
	}

	s := &Server{
		Log:              logger,
		DB:               db,
		anomalyThreshold: anomalyThreshold,
		ingestRateLimit:  ingestRateLimit,
		snapshots:        snapshots,
		live:             newLiveFeed(logger),
	}
	s.setupHttpRoutes()
	return s, nil
}

// Router returns the HTTP handler (also used by tests via httptest).
func (s *Server) Router() http.Handler {
	return s.httpRouter
}

// port example: ":8085"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		if sig, ok := <-s.signalIn; ok {
			s.Log.Infof("Received OS signal '%v', shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.live.closeAll()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("Shutdown complete, with error: %v", err)
			s.Log.Close()
			return
		}
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
}
