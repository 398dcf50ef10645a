package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/earnlock/earnlock/internal/controller"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the control API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the HTTP control API the mobile UI talks to. It is a thin JSON
// layer over the controller; all decisions happen behind the controller's
// mutex.
type Server struct {
	config     Config
	controller *controller.Controller
	server     *http.Server
	router     *mux.Router
	listener   net.Listener // Optional pre-created listener (for systemd socket activation)
	logger     zerolog.Logger
}

// NewServer creates the control API server.
func NewServer(cfg Config, ctrl *controller.Controller, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:     cfg,
		controller: ctrl,
		router:     router,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/workout/start", s.handleWorkoutStart).Methods("POST")
	v1.HandleFunc("/workout/reps", s.handleWorkoutReps).Methods("POST")
	v1.HandleFunc("/workout/complete", s.handleWorkoutComplete).Methods("POST")
	v1.HandleFunc("/workout/cancel", s.handleWorkoutCancel).Methods("POST")

	v1.HandleFunc("/lock", s.handleLock).Methods("POST")
	v1.HandleFunc("/emergency", s.handleEmergency).Methods("POST")
	v1.HandleFunc("/emergency/settings", s.handleGetEmergencySettings).Methods("GET")
	v1.HandleFunc("/emergency/settings", s.handlePutEmergencySettings).Methods("PUT")

	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/usage/history", s.handleUsageHistory).Methods("GET")
	v1.HandleFunc("/usage/week", s.handleUsageWeek).Methods("GET")

	v1.HandleFunc("/targets", s.handleGetTargets).Methods("GET")
	v1.HandleFunc("/targets", s.handlePutTargets).Methods("PUT")
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting control API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the API server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping control API server")
	return s.server.Shutdown(ctx)
}
