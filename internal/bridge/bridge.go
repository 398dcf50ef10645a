package bridge

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the native enforcement layer cannot be
// reached or does not implement the queried capability. Callers treat it as
// "no data", not as a failure.
var ErrUnavailable = errors.New("bridge: enforcement layer unavailable")

// EmergencyStatus is the quota view reported by the enforcement layer.
type EmergencyStatus struct {
	Active    bool      `json:"active"`
	UsedToday int       `json:"used_today"`
	Expiry    time.Time `json:"expiry"`
}

// Bridge is the contract to the platform enforcement layer that actually
// blocks and unblocks targets. The daemon owns the decision; the bridge only
// carries it out and reports back.
type Bridge interface {
	// ApplyBlocking enforces blocking for the given target selection.
	// An empty selection is a valid call and clears nothing.
	ApplyBlocking(ctx context.Context, targets []string) error

	// RemoveBlocking lifts enforcement for the given targets. A nil or
	// empty selection lifts everything.
	RemoveBlocking(ctx context.Context, targets []string) error

	// QueryEmergencyStatus reads quota state tracked natively by the
	// enforcement layer. Returns ErrUnavailable when the layer keeps no
	// such state.
	QueryEmergencyStatus(ctx context.Context) (*EmergencyStatus, error)
}

// Noop is the fallback bridge used when no enforcement endpoint is
// configured. Blocking commands succeed without effect so the daemon's
// state machine keeps running; status queries report no data.
type Noop struct{}

// NewNoop creates the no-op bridge.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) ApplyBlocking(ctx context.Context, targets []string) error {
	return nil
}

func (n *Noop) RemoveBlocking(ctx context.Context, targets []string) error {
	return nil
}

func (n *Noop) QueryEmergencyStatus(ctx context.Context) (*EmergencyStatus, error) {
	return nil, ErrUnavailable
}
