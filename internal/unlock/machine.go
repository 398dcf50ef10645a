package unlock

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// State is the current phase of the unlock/block cycle.
type State string

const (
	// StateLocked means targets are blocked (subject to the grace period).
	StateLocked State = "LOCKED"
	// StateEarning means a workout is in progress; screen time not yet granted.
	StateEarning State = "EARNING"
	// StateUnlocked means an unlock window is active.
	StateUnlocked State = "UNLOCKED"
	// StateExpired means the unlock window has ended. Behaviorally equivalent
	// to LOCKED for starting a new workout, surfaced separately for the UI.
	StateExpired State = "EXPIRED"
)

// ErrInvalidTransition is the base error for commands that are not valid in
// the current state. Callers can match it with errors.Is.
var ErrInvalidTransition = errors.New("unlock: invalid transition")

var (
	// ErrWorkoutActive is returned by StartWorkout when a session already
	// exists. Duplicate starts fail loudly instead of silently dropping the
	// caller's reps; cancel the active workout first.
	ErrWorkoutActive = fmt.Errorf("workout already in progress: %w", ErrInvalidTransition)

	// ErrNoActiveWorkout is returned by complete/cancel without a session.
	ErrNoActiveWorkout = fmt.Errorf("no active workout: %w", ErrInvalidTransition)
)

// Session is one earn-attempt. At most one is active at a time and it is
// owned exclusively by the machine until completed or cancelled.
type Session struct {
	ID            string
	Type          string
	TargetReps    int
	CompletedReps int
	Earned        time.Duration // credited to the unlock window on completion
	StartedAt     time.Time
}

// Machine is the clock-driven unlock/block state machine. It is a pure
// state container: all time flows in through explicit now parameters and the
// only side effect of any call is the state transition itself. It is not
// safe for concurrent use; the controller serializes access.
type Machine struct {
	state     State
	session   *Session
	expiresAt time.Time // zero when no window has been earned
	lockedAt  time.Time
	grace     time.Duration
	targets   []string
	lastTick  time.Time
}

// NewMachine creates a machine in the LOCKED state.
func NewMachine(grace time.Duration, targets []string, now time.Time) *Machine {
	return &Machine{
		state:    StateLocked,
		grace:    grace,
		targets:  append([]string(nil), targets...),
		lockedAt: now,
		lastTick: now,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// ActiveSession returns a copy of the active session, or nil.
func (m *Machine) ActiveSession() *Session {
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// ExpiresAt returns when the current unlock window ends. Zero when none.
func (m *Machine) ExpiresAt() time.Time {
	return m.expiresAt
}

// SetTargets replaces the configured block-target list.
func (m *Machine) SetTargets(targets []string) {
	m.targets = append([]string(nil), targets...)
}

// Targets returns the configured block-target list.
func (m *Machine) Targets() []string {
	return append([]string(nil), m.targets...)
}

// StartWorkout begins an earn-attempt. Valid from LOCKED, EXPIRED and
// UNLOCKED (a window in progress is preserved and later extended). Fails
// with ErrWorkoutActive when a session already exists.
func (m *Machine) StartWorkout(now time.Time, workoutType string, targetReps int, earned time.Duration) (*Session, error) {
	if m.session != nil {
		return nil, ErrWorkoutActive
	}

	session := &Session{
		ID:         newSessionID(),
		Type:       workoutType,
		TargetReps: targetReps,
		Earned:     earned,
		StartedAt:  now,
	}

	m.session = session
	m.state = StateEarning

	s := *session
	return &s, nil
}

// RecordReps updates the completed rep count of the active session so
// progress queries reflect it.
func (m *Machine) RecordReps(completed int) error {
	if m.session == nil {
		return ErrNoActiveWorkout
	}
	if completed < 0 {
		completed = 0
	}
	m.session.CompletedReps = completed
	return nil
}

// CompleteWorkout finishes the active session and credits its earned time.
// A window already in progress is extended, never shortened: the new expiry
// is max(currentExpiry, now) + earned.
func (m *Machine) CompleteWorkout(now time.Time, actualReps int) (time.Duration, error) {
	if m.session == nil {
		return 0, ErrNoActiveWorkout
	}

	earned := m.session.Earned

	base := now
	if m.expiresAt.After(now) {
		base = m.expiresAt
	}
	m.expiresAt = base.Add(earned)

	m.session = nil
	m.state = StateUnlocked

	return earned, nil
}

// CancelWorkout discards the active session. The machine returns to
// UNLOCKED if a window earned earlier is still running, otherwise LOCKED.
func (m *Machine) CancelWorkout(now time.Time) error {
	if m.session == nil {
		return ErrNoActiveWorkout
	}

	m.session = nil
	if m.expiresAt.After(now) {
		m.state = StateUnlocked
	} else {
		m.state = StateLocked
		m.lockedAt = now
	}
	return nil
}

// Lock is the manual override from any state (e.g. daily cap reached). It
// clears any active session and window.
func (m *Machine) Lock(now time.Time) {
	m.state = StateLocked
	m.session = nil
	m.expiresAt = time.Time{}
	m.lockedAt = now
}

// Tick advances the machine to now. It is idempotent: duplicate or
// non-increasing ticks never re-trigger a transition. The expiry boundary is
// inclusive: the window ends when now >= expiresAt. Returns the resulting
// state and whether a transition fired.
func (m *Machine) Tick(now time.Time) (State, bool) {
	if now.Before(m.lastTick) {
		return m.state, false
	}
	m.lastTick = now

	if m.state == StateUnlocked && !m.expiresAt.IsZero() && !now.Before(m.expiresAt) {
		m.state = StateExpired
		return m.state, true
	}

	return m.state, false
}

// windowActive reports whether an earned unlock window covers now.
func (m *Machine) windowActive(now time.Time) bool {
	return !m.expiresAt.IsZero() && now.Before(m.expiresAt)
}

// BlockedTargets returns the targets that should be enforced as blocked at
// now. Empty while a window is active and during the grace period after
// entering LOCKED.
func (m *Machine) BlockedTargets(now time.Time) []string {
	if m.windowActive(now) {
		return nil
	}
	if m.state == StateLocked && now.Before(m.lockedAt.Add(m.grace)) {
		return nil
	}
	return append([]string(nil), m.targets...)
}

// AccessibleTargets returns the complement of BlockedTargets over the
// configured target list.
func (m *Machine) AccessibleTargets(now time.Time) []string {
	if len(m.BlockedTargets(now)) > 0 {
		return nil
	}
	return append([]string(nil), m.targets...)
}

// WorkoutProgress returns 0.0-1.0 progress of the active session: rep-based
// when a target rep count is set, otherwise time-based against the earned
// duration. Returns 0 when no workout is active.
func (m *Machine) WorkoutProgress(now time.Time) float64 {
	if m.session == nil {
		return 0
	}

	var progress float64
	if m.session.TargetReps > 0 {
		progress = float64(m.session.CompletedReps) / float64(m.session.TargetReps)
	} else if m.session.Earned > 0 {
		progress = float64(now.Sub(m.session.StartedAt)) / float64(m.session.Earned)
	}

	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}

// UnlockRemaining returns the time left in the unlock window, never negative.
func (m *Machine) UnlockRemaining(now time.Time) time.Duration {
	if m.expiresAt.IsZero() || !m.expiresAt.After(now) {
		return 0
	}
	return m.expiresAt.Sub(now)
}

// GraceRemaining returns the time left before enforcement begins after
// entering LOCKED, never negative.
func (m *Machine) GraceRemaining(now time.Time) time.Duration {
	if m.state != StateLocked {
		return 0
	}
	deadline := m.lockedAt.Add(m.grace)
	if !deadline.After(now) {
		return 0
	}
	return deadline.Sub(now)
}

func newSessionID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// This should never happen with a working system RNG
		panic(fmt.Sprintf("failed to generate session ID: %v", err))
	}
	return hex.EncodeToString(bytes)
}
