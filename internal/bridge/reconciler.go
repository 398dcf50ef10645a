package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/earnlock/earnlock/internal/clock"
	"github.com/earnlock/earnlock/internal/emergency"
	"github.com/rs/zerolog"
)

// Reconciler periodically pulls natively tracked emergency state through the
// bridge and merges it into the local tracker. Emergency unlocks can be
// granted on the native side while the daemon is not running commands, so
// the poll keeps both sides converging on the same quota position.
type Reconciler struct {
	bridge   Bridge
	tracker  *emergency.Tracker
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewReconciler creates a reconciler polling at the given interval.
func NewReconciler(b Bridge, tracker *emergency.Tracker, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		bridge:   b,
		tracker:  tracker,
		clock:    clk,
		interval: interval,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the poll loop.
func (r *Reconciler) Start() {
	go r.run()
	r.logger.Info().
		Dur("interval", r.interval).
		Msg("Emergency status reconciler started")
}

// Stop stops the poll loop.
func (r *Reconciler) Stop() {
	close(r.stopChan)
	r.logger.Info().Msg("Emergency status reconciler stopped")
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stopChan:
			return
		}
	}
}

// Reconcile performs a single query-and-merge pass.
func (r *Reconciler) Reconcile(ctx context.Context) {
	status, err := r.bridge.QueryEmergencyStatus(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			r.logger.Warn().Err(err).Msg("Emergency status query failed")
		}
		return
	}

	now := r.clock.Now()
	if err := r.tracker.MergeNative(ctx, now, status.UsedToday, status.Expiry); err != nil {
		r.logger.Error().Err(err).Msg("Failed to merge native emergency status")
	}
}
