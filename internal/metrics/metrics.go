package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Workout metrics
	WorkoutsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnlock_workouts_started_total",
			Help: "Total workout sessions started",
		},
		[]string{"type"},
	)

	WorkoutsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnlock_workouts_completed_total",
			Help: "Total workout sessions completed",
		},
		[]string{"type"},
	)

	WorkoutsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnlock_workouts_cancelled_total",
			Help: "Total workout sessions cancelled",
		},
		[]string{"type"},
	)

	// Time metrics
	SecondsEarned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "earnlock_unlock_seconds_earned_total",
			Help: "Total unlock seconds earned through workouts",
		},
	)

	SecondsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "earnlock_unlock_seconds_consumed_total",
			Help: "Total unlock seconds consumed",
		},
	)

	// State metrics
	UnlockState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "earnlock_unlock_state",
			Help: "Current unlock state (0=locked, 1=earning, 2=unlocked, 3=expired)",
		},
	)

	DailyCapHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "earnlock_daily_cap_hits_total",
			Help: "Times the daily consumption cap was reached",
		},
	)

	// Emergency metrics
	EmergencyUnlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "earnlock_emergency_unlocks_total",
			Help: "Total emergency unlocks granted",
		},
	)

	EmergencyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnlock_emergency_rejections_total",
			Help: "Emergency unlock requests rejected",
		},
		[]string{"reason"},
	)

	// Bridge metrics
	BridgeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earnlock_bridge_errors_total",
			Help: "Enforcement bridge call errors",
		},
		[]string{"operation"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		WorkoutsStarted,
		WorkoutsCompleted,
		WorkoutsCancelled,
		SecondsEarned,
		SecondsConsumed,
		UnlockState,
		DailyCapHits,
		EmergencyUnlocks,
		EmergencyRejections,
		BridgeErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
