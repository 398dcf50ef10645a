package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/earnlock/earnlock/internal/bridge"
	"github.com/earnlock/earnlock/internal/clock"
	"github.com/earnlock/earnlock/internal/emergency"
	"github.com/earnlock/earnlock/internal/ledger"
	"github.com/earnlock/earnlock/internal/metrics"
	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/earnlock/earnlock/internal/unlock"
	"github.com/rs/zerolog"
)

// ErrDailyCapReached rejects commands that would grant screen time after
// today's consumption cap is exhausted.
var ErrDailyCapReached = errors.New("controller: daily screen time cap reached")

// Options configures the controller.
type Options struct {
	TickInterval time.Duration
	// SecondsPerRepCap bounds client-supplied earned time to targetReps
	// multiplied by this many seconds. Zero disables the bound.
	SecondsPerRepCap int
}

// Status is the full daemon state snapshot served to the UI.
type Status struct {
	State             unlock.State      `json:"state"`
	Session           *unlock.Session   `json:"session,omitempty"`
	WorkoutProgress   float64           `json:"workout_progress"`
	UnlockRemaining   time.Duration     `json:"unlock_remaining"`
	GraceRemaining    time.Duration     `json:"grace_remaining"`
	BlockedTargets    []string          `json:"blocked_targets"`
	AccessibleTargets []string          `json:"accessible_targets"`
	Emergency         *emergency.Status `json:"emergency"`
	PlanTier          plan.Tier         `json:"plan_tier"`
	Usage             *ledger.Stats     `json:"usage"`
}

// Controller wires the state machine to the ledger, the quota tracker, the
// plan service and the enforcement bridge. All commands and the tick loop go
// through one mutex: the machine itself is a pure state container and this
// is its single writer.
type Controller struct {
	mu      sync.Mutex
	machine *unlock.Machine
	ledger  *ledger.Ledger
	quota   *emergency.Tracker
	plans   *plan.Service
	bridge  bridge.Bridge
	targets storage.TargetStore
	clock   clock.Clock
	logger  zerolog.Logger
	opts    Options

	// accrualAnchor marks where consumed-time booking last stopped. Set on
	// entering UNLOCKED, advanced every tick while the window runs.
	accrualAnchor time.Time
	accruing      bool

	// lastEnforced is the blocked set last pushed through the bridge.
	lastEnforced []string
	enforcedOnce bool
}

// New creates a controller. The machine starts LOCKED at the current time.
func New(machine *unlock.Machine, l *ledger.Ledger, quota *emergency.Tracker, plans *plan.Service, b bridge.Bridge, targets storage.TargetStore, clk clock.Clock, opts Options, logger zerolog.Logger) *Controller {
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Second
	}
	return &Controller{
		machine: machine,
		ledger:  l,
		quota:   quota,
		plans:   plans,
		bridge:  b,
		targets: targets,
		clock:   clk,
		logger:  logger.With().Str("component", "controller").Logger(),
		opts:    opts,
	}
}

// Run drives the tick loop until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	c.logger.Info().
		Dur("interval", c.opts.TickInterval).
		Msg("Controller tick loop started")

	for {
		select {
		case <-ticker.C:
			c.Tick(ctx)
		case <-ctx.Done():
			c.logger.Info().Msg("Controller tick loop stopped")
			return
		}
	}
}

// Tick advances the machine to the current time, books consumed seconds,
// applies the daily cap and reconciles enforcement. Safe to call directly
// from tests.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	tier := c.plans.Current(ctx)

	if err := c.quota.CheckReset(ctx, now); err != nil {
		c.logger.Error().Err(err).Msg("Emergency quota reset check failed")
	}

	c.accrueConsumed(ctx, now, tier)

	state, transitioned := c.machine.Tick(now)
	if transitioned {
		c.logger.Info().
			Str("state", string(state)).
			Msg("Unlock window expired")
	}

	c.applyDailyCap(ctx, now, tier)
	c.reconcileEnforcement(ctx, now)
	c.publishStateMetric()
}

// accrueConsumed books the wall-clock time elapsed since the last tick while
// an unlock window was running.
func (c *Controller) accrueConsumed(ctx context.Context, now time.Time, tier plan.Tier) {
	// The window keeps running during an extension workout, so accrual
	// follows the window itself, not the UNLOCKED state.
	active := c.machine.UnlockRemaining(now) > 0

	if !c.accruing {
		if active {
			c.accruing = true
			c.accrualAnchor = now
		}
		return
	}

	// Book up to the window end, not past it
	end := now
	expiresAt := c.machine.ExpiresAt()
	if !expiresAt.IsZero() && expiresAt.Before(now) {
		end = expiresAt
	}

	elapsed := end.Sub(c.accrualAnchor)
	if elapsed > 0 {
		if err := c.ledger.AddConsumed(ctx, now, elapsed, tier); err != nil {
			c.logger.Error().Err(err).Msg("Failed to book consumed time")
		} else {
			metrics.SecondsConsumed.Add(elapsed.Seconds())
		}
	}

	c.accrualAnchor = end
	if !active {
		c.accruing = false
	}
}

// applyDailyCap force-locks the machine when today's consumption reaches the
// tier cap.
func (c *Controller) applyDailyCap(ctx context.Context, now time.Time, tier plan.Tier) {
	if c.machine.State() != unlock.StateUnlocked && c.machine.State() != unlock.StateEarning {
		return
	}

	hit, err := c.ledger.HitDailyCap(ctx, now, tier)
	if err != nil {
		c.logger.Error().Err(err).Msg("Daily cap check failed")
		return
	}
	if !hit {
		return
	}

	c.machine.Lock(now)
	c.accruing = false
	metrics.DailyCapHits.Inc()

	c.logger.Info().
		Str("tier", string(tier)).
		Msg("Daily cap reached, locking")
}

// reconcileEnforcement pushes the effective blocked set through the bridge
// when it changed. An active emergency session overrides everything to
// accessible without touching the machine.
func (c *Controller) reconcileEnforcement(ctx context.Context, now time.Time) {
	blocked := c.machine.BlockedTargets(now)

	if len(blocked) > 0 {
		active, err := c.quota.Active(ctx, now)
		if err != nil {
			c.logger.Error().Err(err).Msg("Emergency session check failed")
		} else if active {
			blocked = nil
		}
	}

	if c.enforcedOnce && targetsEqual(blocked, c.lastEnforced) {
		return
	}

	var err error
	if len(blocked) > 0 {
		if err = c.bridge.ApplyBlocking(ctx, blocked); err != nil {
			metrics.BridgeErrors.WithLabelValues("apply").Inc()
		}
	} else {
		if err = c.bridge.RemoveBlocking(ctx, nil); err != nil {
			metrics.BridgeErrors.WithLabelValues("remove").Inc()
		}
	}

	if err != nil {
		// Fail open: enforcement errors degrade, the daemon keeps running
		c.logger.Warn().Err(err).Msg("Enforcement bridge call failed")
		return
	}

	c.lastEnforced = blocked
	c.enforcedOnce = true

	c.logger.Debug().
		Strs("blocked", blocked).
		Msg("Enforcement reconciled")
}

func (c *Controller) publishStateMetric() {
	var v float64
	switch c.machine.State() {
	case unlock.StateLocked:
		v = 0
	case unlock.StateEarning:
		v = 1
	case unlock.StateUnlocked:
		v = 2
	case unlock.StateExpired:
		v = 3
	}
	metrics.UnlockState.Set(v)
}

// StartWorkout begins an earn-attempt. The earned duration is bounded by
// SecondsPerRepCap when configured and rejected outright once the daily cap
// is reached.
func (c *Controller) StartWorkout(ctx context.Context, workoutType string, targetReps int, earned time.Duration) (*unlock.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	tier := c.plans.Current(ctx)

	hit, err := c.ledger.HitDailyCap(ctx, now, tier)
	if err != nil {
		return nil, err
	}
	if hit {
		return nil, ErrDailyCapReached
	}

	if c.opts.SecondsPerRepCap > 0 && targetReps > 0 {
		bound := time.Duration(targetReps*c.opts.SecondsPerRepCap) * time.Second
		if earned > bound {
			earned = bound
		}
	}

	session, err := c.machine.StartWorkout(now, workoutType, targetReps, earned)
	if err != nil {
		return nil, err
	}

	metrics.WorkoutsStarted.WithLabelValues(workoutType).Inc()
	c.logger.Info().
		Str("session_id", session.ID).
		Str("type", workoutType).
		Int("target_reps", targetReps).
		Dur("earned", earned).
		Msg("Workout started")

	return session, nil
}

// RecordReps updates live progress of the active workout.
func (c *Controller) RecordReps(completed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.RecordReps(completed)
}

// CompleteWorkout finishes the active workout, credits the earned time to the
// ledger and opens or extends the unlock window.
func (c *Controller) CompleteWorkout(ctx context.Context, actualReps int) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	session := c.machine.ActiveSession()

	earned, err := c.machine.CompleteWorkout(now, actualReps)
	if err != nil {
		return 0, err
	}

	tier := c.plans.Current(ctx)
	if err := c.ledger.AddEarned(ctx, now, earned, tier); err != nil {
		c.logger.Error().Err(err).Msg("Failed to book earned time")
	}

	workoutType := ""
	if session != nil {
		workoutType = session.Type
	}
	metrics.WorkoutsCompleted.WithLabelValues(workoutType).Inc()
	metrics.SecondsEarned.Add(earned.Seconds())

	if !c.accruing {
		c.accruing = true
		c.accrualAnchor = now
	}

	c.reconcileEnforcement(ctx, now)

	c.logger.Info().
		Str("type", workoutType).
		Int("actual_reps", actualReps).
		Dur("earned", earned).
		Time("expires_at", c.machine.ExpiresAt()).
		Msg("Workout completed")

	return earned, nil
}

// CancelWorkout discards the active workout without granting time.
func (c *Controller) CancelWorkout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	session := c.machine.ActiveSession()

	if err := c.machine.CancelWorkout(now); err != nil {
		return err
	}

	workoutType := ""
	if session != nil {
		workoutType = session.Type
	}
	metrics.WorkoutsCancelled.WithLabelValues(workoutType).Inc()

	c.reconcileEnforcement(ctx, now)

	c.logger.Info().Str("type", workoutType).Msg("Workout cancelled")
	return nil
}

// Lock is the manual override: clears any session and window and enforces
// immediately.
func (c *Controller) Lock(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.machine.Lock(now)
	c.accruing = false

	c.reconcileEnforcement(ctx, now)
	c.logger.Info().Msg("Manual lock")
}

// UseEmergencyUnlock consumes one emergency unlock and lifts enforcement for
// its duration.
func (c *Controller) UseEmergencyUnlock(ctx context.Context) (*emergency.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	tier := c.plans.Current(ctx)

	status, err := c.quota.Use(ctx, now, tier)
	if err != nil {
		switch {
		case errors.Is(err, emergency.ErrQuotaExhausted):
			metrics.EmergencyRejections.WithLabelValues("quota").Inc()
		case errors.Is(err, emergency.ErrPlanRequired):
			metrics.EmergencyRejections.WithLabelValues("plan").Inc()
		case errors.Is(err, emergency.ErrDisabled):
			metrics.EmergencyRejections.WithLabelValues("disabled").Inc()
		}
		return nil, err
	}

	metrics.EmergencyUnlocks.Inc()
	c.reconcileEnforcement(ctx, now)

	return status, nil
}

// Status builds the full state snapshot.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	tier := c.plans.Current(ctx)

	emergencyStatus, err := c.quota.CurrentStatus(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("emergency status: %w", err)
	}

	usage, err := c.ledger.Stats(ctx, now, tier)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}

	blocked := c.machine.BlockedTargets(now)
	accessible := c.machine.AccessibleTargets(now)
	if emergencyStatus.Active {
		blocked = nil
		accessible = c.machine.Targets()
	}

	return &Status{
		State:             c.machine.State(),
		Session:           c.machine.ActiveSession(),
		WorkoutProgress:   c.machine.WorkoutProgress(now),
		UnlockRemaining:   c.machine.UnlockRemaining(now),
		GraceRemaining:    c.machine.GraceRemaining(now),
		BlockedTargets:    blocked,
		AccessibleTargets: accessible,
		Emergency:         emergencyStatus,
		PlanTier:          tier,
		Usage:             usage,
	}, nil
}

// UsageHistory returns the zero-filled daily records for the last days.
func (c *Controller) UsageHistory(ctx context.Context, days int) ([]storage.DailyUsage, error) {
	return c.ledger.History(ctx, c.clock.Now(), days)
}

// Targets returns the persisted block-target list.
func (c *Controller) Targets(ctx context.Context) (*storage.TargetList, error) {
	list, err := c.targets.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &storage.TargetList{}, nil
		}
		return nil, err
	}
	return list, nil
}

// UpdateTargets persists a new block-target list and applies it to the
// machine and enforcement immediately.
func (c *Controller) UpdateTargets(ctx context.Context, list storage.TargetList) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	list.UpdatedAt = now

	if err := c.targets.Put(ctx, list); err != nil {
		return fmt.Errorf("persist targets: %w", err)
	}

	c.machine.SetTargets(list.IDs)
	c.reconcileEnforcement(ctx, now)

	c.logger.Info().
		Int("count", len(list.IDs)).
		Msg("Block targets updated")
	return nil
}

// EmergencySettings returns the effective emergency settings.
func (c *Controller) EmergencySettings(ctx context.Context) (storage.EmergencySettings, error) {
	return c.quota.Settings(ctx)
}

// UpdateEmergencySettings persists new emergency settings.
func (c *Controller) UpdateEmergencySettings(ctx context.Context, settings storage.EmergencySettings) error {
	return c.quota.UpdateSettings(ctx, settings)
}

func targetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
