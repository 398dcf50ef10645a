package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/earnlock/earnlock/internal/api"
	"github.com/earnlock/earnlock/internal/bridge"
	"github.com/earnlock/earnlock/internal/clock"
	"github.com/earnlock/earnlock/internal/config"
	"github.com/earnlock/earnlock/internal/controller"
	"github.com/earnlock/earnlock/internal/emergency"
	"github.com/earnlock/earnlock/internal/ledger"
	"github.com/earnlock/earnlock/internal/metrics"
	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/earnlock/earnlock/internal/storage/bolt"
	"github.com/earnlock/earnlock/internal/storage/redis"
	"github.com/earnlock/earnlock/internal/systemd"
	"github.com/earnlock/earnlock/internal/unlock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the earnlock daemon",
	Long:  `Start the earnlock daemon with the control API, metrics endpoint and enforcement bridge.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting earnlock")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	clk := &clock.RealClock{}
	now := clk.Now()

	// Load persisted block targets
	var targetIDs []string
	targets, err := store.Targets().Get(context.Background())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to load block targets: %w", err)
		}
		logger.Info().Msg("No block targets configured yet")
	} else {
		targetIDs = targets.IDs
		logger.Info().Int("count", len(targetIDs)).Msg("Block targets loaded")
	}

	// Plan tiers and daily caps
	caps := plan.Caps{
		Free:     parseDuration(cfg.Plans.FreeDailyCap, time.Hour),
		Pro:      parseDuration(cfg.Plans.ProDailyCap, 4*time.Hour),
		Advanced: parseDuration(cfg.Plans.AdvancedDailyCap, 0),
	}
	plans := plan.NewService(store.Plans(), 30*time.Second, logger)

	// Daily usage ledger
	usageLedger := ledger.NewLedger(store.Usage(), caps, logger)

	// Emergency unlock quota tracker
	quota := emergency.NewTracker(store.Emergency(), storage.EmergencySettings{
		Enabled:       cfg.Emergency.Enabled,
		MaxPerDay:     cfg.Emergency.MaxPerDay,
		MinutesPerUse: cfg.Emergency.MinutesPerUse,
	}, logger)

	// Unlock state machine
	grace := parseDuration(cfg.Unlock.GracePeriod, 0)
	machine := unlock.NewMachine(grace, targetIDs, now)

	logger.Info().
		Dur("grace_period", grace).
		Msg("Unlock state machine initialized")

	// Enforcement bridge
	var enforcementBridge bridge.Bridge
	if cfg.Bridge.Endpoint != "" {
		enforcementBridge = bridge.NewHTTPBridge(
			cfg.Bridge.Endpoint,
			parseDuration(cfg.Bridge.Timeout, 2*time.Second),
			logger,
		)
		logger.Info().Str("endpoint", cfg.Bridge.Endpoint).Msg("Enforcement bridge initialized")
	} else {
		enforcementBridge = bridge.NewNoop()
		logger.Warn().Msg("No enforcement endpoint configured, blocking decisions are advisory only")
	}

	// Orchestration controller
	ctrl := controller.New(
		machine,
		usageLedger,
		quota,
		plans,
		enforcementBridge,
		store.Targets(),
		clk,
		controller.Options{
			TickInterval:     parseDuration(cfg.Unlock.TickInterval, time.Second),
			SecondsPerRepCap: cfg.Unlock.SecondsPerRepCap,
		},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	// Emergency status reconciler
	reconciler := bridge.NewReconciler(
		enforcementBridge,
		quota,
		clk,
		parseDuration(cfg.Bridge.PollInterval, 3*time.Second),
		logger,
	)
	reconciler.Start()

	// Usage retention scheduler
	retention, err := ledger.NewRetentionScheduler(
		store.Usage(),
		cfg.Unlock.DailyResetTime,
		cfg.Unlock.UsageRetention,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}
	retention.Start()

	// Control API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{ListenAddr: apiAddr}, ctrl, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start control API server: %w", err)
	}

	logger.Info().Str("addr", apiAddr).Msg("Control API server started")

	// Metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")

	// Log startup complete
	logger.Info().Msg("earnlock startup complete")
	logger.Info().Msgf("Control API: http://%s/v1/status", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, invalidating plan status cache")
			plans.Invalidate()
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop everything
	cancel()
	reconciler.Stop()
	retention.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping control API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("earnlock stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
