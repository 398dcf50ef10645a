package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/rs/zerolog"
)

// Rejection reasons for Use. These are expected user-facing conditions, not
// failures; callers surface them as overlay copy.
var (
	ErrDisabled       = errors.New("emergency: emergency unlock disabled")
	ErrPlanRequired   = errors.New("emergency: plan tier lacks emergency unlock access")
	ErrQuotaExhausted = errors.New("emergency: daily quota exhausted")
)

// Status is the quota position at a point in time.
type Status struct {
	Active    bool          `json:"active"`
	UsedToday int           `json:"used_today"`
	MaxPerDay int           `json:"max_per_day"`
	Expiry    *time.Time    `json:"expiry,omitempty"`
	Remaining time.Duration `json:"remaining"`
}

// Tracker manages the per-day emergency unlock quota. An active emergency
// session is a time-gated override on top of the primary state machine, not
// a state of it: while active, everything is accessible; at expiry normal
// enforcement resumes with no transition.
type Tracker struct {
	store    storage.EmergencyStore
	defaults storage.EmergencySettings
	logger   zerolog.Logger
}

// NewTracker creates a quota tracker. The defaults apply until settings are
// persisted through the store.
func NewTracker(store storage.EmergencyStore, defaults storage.EmergencySettings, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		defaults: defaults,
		logger:   logger.With().Str("component", "emergency").Logger(),
	}
}

func dateKey(now time.Time) string {
	return now.Format("2006-01-02")
}

// Settings returns the effective settings, falling back to configured
// defaults when none are persisted.
func (t *Tracker) Settings(ctx context.Context) (storage.EmergencySettings, error) {
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return t.defaults, nil
		}
		return storage.EmergencySettings{}, fmt.Errorf("load emergency settings: %w", err)
	}
	return *settings, nil
}

// UpdateSettings persists new settings.
func (t *Tracker) UpdateSettings(ctx context.Context, settings storage.EmergencySettings) error {
	switch settings.MinutesPerUse {
	case 10, 15, 30:
	default:
		return fmt.Errorf("minutes per use must be 10, 15 or 30, got %d", settings.MinutesPerUse)
	}
	return t.store.PutSettings(ctx, settings)
}

func (t *Tracker) loadState(ctx context.Context) (storage.EmergencyState, error) {
	state, err := t.store.GetState(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.EmergencyState{}, nil
		}
		return storage.EmergencyState{}, fmt.Errorf("load emergency state: %w", err)
	}
	return *state, nil
}

// CheckReset zeroes the used counter when the stored reset date predates
// today's local midnight. It runs before every quota read or write and is
// idempotent: a second call the same day changes nothing. An active expiry
// spanning midnight is preserved.
func (t *Tracker) CheckReset(ctx context.Context, now time.Time) error {
	state, err := t.loadState(ctx)
	if err != nil {
		return err
	}

	today := dateKey(now)
	if state.ResetDate == today {
		return nil
	}

	previous := state.UsedToday
	state.UsedToday = 0
	state.ResetDate = today

	if err := t.store.PutState(ctx, state); err != nil {
		return fmt.Errorf("persist quota reset: %w", err)
	}

	if previous > 0 {
		t.logger.Info().
			Str("date", today).
			Int("previous_used", previous).
			Msg("Emergency quota reset at day boundary")
	}

	return nil
}

// Use consumes one emergency unlock. It is rejected with ErrDisabled,
// ErrPlanRequired or ErrQuotaExhausted without any state change; on success
// the counter is incremented and the session expiry set to now plus the
// configured minutes per use.
func (t *Tracker) Use(ctx context.Context, now time.Time, tier plan.Tier) (*Status, error) {
	if err := t.CheckReset(ctx, now); err != nil {
		return nil, err
	}

	settings, err := t.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, ErrDisabled
	}
	if !tier.AllowsEmergencyUnlock() {
		return nil, ErrPlanRequired
	}

	state, err := t.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if state.UsedToday >= settings.MaxPerDay {
		return nil, ErrQuotaExhausted
	}

	expiry := now.Add(time.Duration(settings.MinutesPerUse) * time.Minute)
	state.UsedToday++
	state.CurrentExpiry = &expiry

	if err := t.store.PutState(ctx, state); err != nil {
		return nil, fmt.Errorf("persist emergency unlock: %w", err)
	}

	t.logger.Info().
		Int("used_today", state.UsedToday).
		Int("max_per_day", settings.MaxPerDay).
		Time("expiry", expiry).
		Msg("Emergency unlock granted")

	return t.status(state, settings, now), nil
}

// Active reports whether an emergency session covers now. The expiry is
// always evaluated against the stored absolute timestamp, so a process
// suspend/resume cannot stretch the session.
func (t *Tracker) Active(ctx context.Context, now time.Time) (bool, error) {
	state, err := t.loadState(ctx)
	if err != nil {
		return false, err
	}
	return state.CurrentExpiry != nil && now.Before(*state.CurrentExpiry), nil
}

// CurrentStatus returns the quota position at now.
func (t *Tracker) CurrentStatus(ctx context.Context, now time.Time) (*Status, error) {
	if err := t.CheckReset(ctx, now); err != nil {
		return nil, err
	}

	settings, err := t.Settings(ctx)
	if err != nil {
		return nil, err
	}
	state, err := t.loadState(ctx)
	if err != nil {
		return nil, err
	}

	return t.status(state, settings, now), nil
}

func (t *Tracker) status(state storage.EmergencyState, settings storage.EmergencySettings, now time.Time) *Status {
	status := &Status{
		UsedToday: state.UsedToday,
		MaxPerDay: settings.MaxPerDay,
	}
	if state.CurrentExpiry != nil && now.Before(*state.CurrentExpiry) {
		status.Active = true
		status.Expiry = state.CurrentExpiry
		status.Remaining = state.CurrentExpiry.Sub(now)
	}
	return status
}

// MergeNative reconciles quota state reported by the native enforcement
// extension. The merge is authoritative, not overwrite: the larger used
// count and the later expiry win, which tolerates out-of-order delivery
// between the poll loop and local commands.
func (t *Tracker) MergeNative(ctx context.Context, now time.Time, usedToday int, expiry time.Time) error {
	if err := t.CheckReset(ctx, now); err != nil {
		return err
	}

	state, err := t.loadState(ctx)
	if err != nil {
		return err
	}

	changed := false
	if usedToday > state.UsedToday {
		state.UsedToday = usedToday
		changed = true
	}
	if !expiry.IsZero() && (state.CurrentExpiry == nil || expiry.After(*state.CurrentExpiry)) {
		e := expiry
		state.CurrentExpiry = &e
		changed = true
	}

	if !changed {
		return nil
	}

	if err := t.store.PutState(ctx, state); err != nil {
		return fmt.Errorf("persist merged emergency state: %w", err)
	}

	t.logger.Debug().
		Int("used_today", state.UsedToday).
		Msg("Merged native emergency status")

	return nil
}
