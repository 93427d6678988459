package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/vigilcam/vigil/pkg/pose"
	"github.com/vigilcam/vigil/server/alerts"
	"github.com/vigilcam/vigil/server/channels"
	"github.com/vigilcam/vigil/server/configdb"
)

// Server ties the subsystems together: config DB, channel registry, alert
// engine, and the HTTP control surface.
type Server struct {
	Log      logs.Log
	Registry *channels.Registry
	Alerts   *alerts.Engine

	configDB   *configdb.ConfigDB
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer creates a server, wiring every subsystem.
// detector and poser are the external NN capabilities; poser may be nil, in
// which case only Counting mode produces useful output.
func NewServer(logger logs.Log, configDB *configdb.ConfigDB, detector pose.PersonDetector, poser pose.PoseEstimator) (*Server, error) {
	engine := alerts.NewEngine(logger)
	s := &Server{
		Log:      logger,
		Registry: channels.NewRegistry(logger, configDB, engine, detector, poser),
		Alerts:   engine,
		configDB: configDB,
	}
	s.setupHttpRoutes()
	return s, nil
}

// StartAllChannels starts a worker for every configured channel.
// Called at boot so the system resumes monitoring without operator action.
func (s *Server) StartAllChannels() error {
	configs, err := s.configDB.ListChannels()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := s.Registry.StartChannel(cfg.ID); err != nil {
			s.Log.Errorf("Failed to start channel %v (%v): %v", cfg.Name, cfg.ID, err)
		}
	}
	return nil
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		if sig, ok := <-s.signalIn; ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops everything in dependency order: HTTP first so no new
// mutations arrive, then the workers, then the alert engine they feed.
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown: %v", err)
		}
		cancel()
	}
	s.Registry.Close()
	s.Alerts.Close()
	s.Log.Infof("Shutdown complete")
}
