package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/vigilcam/vigil/pkg/pose"
	"github.com/vigilcam/vigil/server"
	"github.com/vigilcam/vigil/server/configdb"
)

func main() {
	// This is purely for documentation of the cmd-line args
	nominalDefaultDB := "$HOME/vigil/config.sqlite"

	parser := argparse.NewParser("vigil", "Security vision alerting service")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration database file", Default: nominalDefaultDB})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	nnURL := parser.String("", "nn", &argparse.Options{Help: "Base URL of the inference sidecar", Default: "http://127.0.0.1:9090"})
	rate := parser.Int("", "rate", &argparse.Options{Help: "Target inferences per second, per channel", Default: 5})
	noPose := parser.Flag("", "nopose", &argparse.Options{Help: "Disable pose estimation (counting only)", Default: false})
	autoStart := parser.Flag("", "autostart", &argparse.Options{Help: "Start all configured channels at boot", Default: true})
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

	if *configFile == nominalDefaultDB {
		home, _ := os.UserHomeDir()
		if home == "" {
			home = "/var/lib"
		}
		*configFile = filepath.Join(home, "vigil", "config.sqlite")
	}

	configDB, err := configdb.NewConfigDB(logger, *configFile)
	if err != nil {
		logger.Errorf("Failed to open config database: %v", err)
		os.Exit(1)
	}

	capability := pose.NewRemoteCapability(logger, *nnURL)
	var poser pose.PoseEstimator = capability
	if *noPose {
		poser = nil
	}

	srv, err := server.NewServer(logger, configDB, capability, poser)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *rate > 0 {
		srv.Registry.SetInferenceInterval(time.Second / time.Duration(*rate))
	}
	if *autoStart {
		if err := srv.StartAllChannels(); err != nil {
			logger.Errorf("Failed to start channels: %v", err)
		}
	}
	srv.ListenForKillSignals()
	daemon.SdNotify(false, daemon.SdNotifyReady)
	if err := srv.ListenHTTP(*port); err != nil {
		logger.Errorf("HTTP server failed: %v", err)
		os.Exit(1)
	}
}
