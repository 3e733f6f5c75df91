package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/crowdsense/collector/server"
)

func main() {
	parser := argparse.NewParser("crowdcollector", "Central collector for crowd telemetry from edge devices")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "crowdcollector.json"})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen port", Default: ":8085"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServer(*configFilePath)
	if err != nil {
		fmt.Printf("Failed to start server: %v\n", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := s.ListenHTTP(*port); err != nil && err != http.ErrServerClosed {
		fmt.Printf("%v\n", err)
	}
}
