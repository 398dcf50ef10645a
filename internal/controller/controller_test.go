package controller

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/earnlock/earnlock/internal/bridge"
	"github.com/earnlock/earnlock/internal/clock"
	"github.com/earnlock/earnlock/internal/emergency"
	"github.com/earnlock/earnlock/internal/ledger"
	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/earnlock/earnlock/internal/storage/bolt"
	"github.com/earnlock/earnlock/internal/unlock"
	"github.com/rs/zerolog"
)

type recordingBridge struct {
	applied   [][]string
	removed   int
	queryErr  error
	lastState *bridge.EmergencyStatus
}

func (r *recordingBridge) ApplyBlocking(ctx context.Context, targets []string) error {
	r.applied = append(r.applied, append([]string(nil), targets...))
	return nil
}

func (r *recordingBridge) RemoveBlocking(ctx context.Context, targets []string) error {
	r.removed++
	return nil
}

func (r *recordingBridge) QueryEmergencyStatus(ctx context.Context) (*bridge.EmergencyStatus, error) {
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	return r.lastState, nil
}

type fixture struct {
	controller *Controller
	clock      *clock.TestClock
	bridge     *recordingBridge
	store      storage.Store
}

func newFixture(t *testing.T, caps plan.Caps, opts Options) *fixture {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "controller.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	clk := &clock.TestClock{CurrentTime: now}

	machine := unlock.NewMachine(0, []string{"social", "games"}, now)
	l := ledger.NewLedger(store.Usage(), caps, zerolog.Nop())
	quota := emergency.NewTracker(store.Emergency(), storage.EmergencySettings{
		Enabled: true, MaxPerDay: 3, MinutesPerUse: 15,
	}, zerolog.Nop())
	plans := plan.NewService(store.Plans(), time.Millisecond, zerolog.Nop())
	rb := &recordingBridge{}

	c := New(machine, l, quota, plans, rb, store.Targets(), clk, opts, zerolog.Nop())

	return &fixture{controller: c, clock: clk, bridge: rb, store: store}
}

func (f *fixture) setPlan(t *testing.T, tier plan.Tier) {
	t.Helper()
	err := f.store.Plans().Put(context.Background(), storage.PlanStatus{
		Tier:   string(tier),
		Active: true,
	})
	if err != nil {
		t.Fatalf("Failed to set plan: %v", err)
	}
	// Let the short cache TTL lapse
	time.Sleep(2 * time.Millisecond)
}

func TestController_EarnConsumeCycle(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})
	ctx := context.Background()

	session, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second)
	if err != nil {
		t.Fatalf("StartWorkout failed: %v", err)
	}
	if session.Type != "squats" {
		t.Errorf("Expected squats session, got %s", session.Type)
	}

	earned, err := f.controller.CompleteWorkout(ctx, 20)
	if err != nil {
		t.Fatalf("CompleteWorkout failed: %v", err)
	}
	if earned != 300*time.Second {
		t.Errorf("Expected 300s earned, got %v", earned)
	}

	status, err := f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != unlock.StateUnlocked {
		t.Errorf("Expected UNLOCKED, got %s", status.State)
	}
	if len(status.BlockedTargets) != 0 {
		t.Errorf("Expected no blocked targets while unlocked, got %v", status.BlockedTargets)
	}
	if status.UnlockRemaining != 300*time.Second {
		t.Errorf("Expected 300s remaining, got %v", status.UnlockRemaining)
	}

	// Run the window out, ticking along the way
	for i := 0; i < 5; i++ {
		f.clock.Advance(60 * time.Second)
		f.controller.Tick(ctx)
	}

	status, err = f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != unlock.StateExpired {
		t.Errorf("Expected EXPIRED, got %s", status.State)
	}
	if len(status.BlockedTargets) != 2 {
		t.Errorf("Expected targets blocked again, got %v", status.BlockedTargets)
	}

	// The full window was booked as consumed
	if status.Usage.Consumed != 300*time.Second {
		t.Errorf("Expected 300s consumed, got %v", status.Usage.Consumed)
	}
	if status.Usage.Earned != 300*time.Second {
		t.Errorf("Expected 300s earned in ledger, got %v", status.Usage.Earned)
	}
}

func TestController_DuplicateStartFails(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})
	ctx := context.Background()

	if _, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second); err != nil {
		t.Fatalf("StartWorkout failed: %v", err)
	}
	if _, err := f.controller.StartWorkout(ctx, "pushups", 10, 150*time.Second); !errors.Is(err, unlock.ErrWorkoutActive) {
		t.Errorf("Expected ErrWorkoutActive, got %v", err)
	}
}

func TestController_DailyCapLocks(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: 120 * time.Second}, Options{})
	ctx := context.Background()

	if _, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second); err != nil {
		t.Fatalf("StartWorkout failed: %v", err)
	}
	if _, err := f.controller.CompleteWorkout(ctx, 20); err != nil {
		t.Fatalf("CompleteWorkout failed: %v", err)
	}

	// Consume past the 120s cap
	f.clock.Advance(60 * time.Second)
	f.controller.Tick(ctx)
	f.clock.Advance(60 * time.Second)
	f.controller.Tick(ctx)

	status, err := f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != unlock.StateLocked {
		t.Errorf("Expected LOCKED after cap hit, got %s", status.State)
	}
	if !status.Usage.CapReached {
		t.Error("Expected cap_reached in usage stats")
	}

	// New earn attempts are rejected until tomorrow
	if _, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second); !errors.Is(err, ErrDailyCapReached) {
		t.Errorf("Expected ErrDailyCapReached, got %v", err)
	}

	// Next day the cap is fresh
	f.clock.Advance(24 * time.Hour)
	if _, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second); err != nil {
		t.Errorf("Expected start to succeed after day rollover, got %v", err)
	}
}

func TestController_SecondsPerRepCapBoundsEarned(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{SecondsPerRepCap: 10})
	ctx := context.Background()

	if _, err := f.controller.StartWorkout(ctx, "squats", 20, time.Hour); err != nil {
		t.Fatalf("StartWorkout failed: %v", err)
	}
	earned, err := f.controller.CompleteWorkout(ctx, 20)
	if err != nil {
		t.Fatalf("CompleteWorkout failed: %v", err)
	}
	if earned != 200*time.Second {
		t.Errorf("Expected earned bounded to 200s, got %v", earned)
	}
}

func TestController_CancelGrantsNothing(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})
	ctx := context.Background()

	if _, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second); err != nil {
		t.Fatalf("StartWorkout failed: %v", err)
	}
	if err := f.controller.CancelWorkout(ctx); err != nil {
		t.Fatalf("CancelWorkout failed: %v", err)
	}

	status, err := f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != unlock.StateLocked {
		t.Errorf("Expected LOCKED after cancel, got %s", status.State)
	}
	if status.Usage.Earned != 0 {
		t.Errorf("Expected no earned time after cancel, got %v", status.Usage.Earned)
	}
}

func TestController_EmergencyOverride(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour, Pro: 4 * time.Hour}, Options{})
	ctx := context.Background()
	f.setPlan(t, plan.TierPro)

	// Locked with enforcement applied
	f.controller.Tick(ctx)
	if len(f.bridge.applied) == 0 {
		t.Fatal("Expected blocking applied while locked")
	}

	status, err := f.controller.UseEmergencyUnlock(ctx)
	if err != nil {
		t.Fatalf("UseEmergencyUnlock failed: %v", err)
	}
	if !status.Active {
		t.Error("Expected active emergency session")
	}
	if f.bridge.removed == 0 {
		t.Error("Expected enforcement lifted for emergency session")
	}

	full, err := f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(full.BlockedTargets) != 0 {
		t.Errorf("Expected nothing blocked during emergency, got %v", full.BlockedTargets)
	}
	if full.State != unlock.StateLocked {
		t.Errorf("Expected machine state untouched, got %s", full.State)
	}

	// Session over: enforcement returns
	f.clock.Advance(16 * time.Minute)
	f.controller.Tick(ctx)

	full, err = f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(full.BlockedTargets) != 2 {
		t.Errorf("Expected blocking restored after emergency expiry, got %v", full.BlockedTargets)
	}
}

func TestController_EmergencyRejectedOnFreeTier(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})

	if _, err := f.controller.UseEmergencyUnlock(context.Background()); !errors.Is(err, emergency.ErrPlanRequired) {
		t.Errorf("Expected ErrPlanRequired on free tier, got %v", err)
	}
}

func TestController_EnforcementDiffing(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})
	ctx := context.Background()

	// Repeated ticks in a steady state push enforcement once
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		f.controller.Tick(ctx)
	}
	if len(f.bridge.applied) != 1 {
		t.Errorf("Expected a single apply call, got %d", len(f.bridge.applied))
	}
}

func TestController_TargetUpdateAppliesImmediately(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})
	ctx := context.Background()

	f.controller.Tick(ctx)

	err := f.controller.UpdateTargets(ctx, storage.TargetList{
		IDs:             []string{"video"},
		SelectionTokens: []string{"token-abc"},
	})
	if err != nil {
		t.Fatalf("UpdateTargets failed: %v", err)
	}

	last := f.bridge.applied[len(f.bridge.applied)-1]
	if len(last) != 1 || last[0] != "video" {
		t.Errorf("Expected new target set enforced, got %v", last)
	}

	stored, err := f.controller.Targets(ctx)
	if err != nil {
		t.Fatalf("Targets failed: %v", err)
	}
	if len(stored.IDs) != 1 || stored.IDs[0] != "video" {
		t.Errorf("Expected persisted target list, got %v", stored.IDs)
	}
	if stored.UpdatedAt.IsZero() {
		t.Error("Expected updated_at stamped")
	}
}

func TestController_WindowExtension(t *testing.T) {
	f := newFixture(t, plan.Caps{Free: time.Hour}, Options{})
	ctx := context.Background()

	if _, err := f.controller.StartWorkout(ctx, "squats", 20, 300*time.Second); err != nil {
		t.Fatalf("StartWorkout failed: %v", err)
	}
	if _, err := f.controller.CompleteWorkout(ctx, 20); err != nil {
		t.Fatalf("CompleteWorkout failed: %v", err)
	}

	// 60s in, earn another 120s: remaining = 240 + 120
	f.clock.Advance(60 * time.Second)
	f.controller.Tick(ctx)

	if _, err := f.controller.StartWorkout(ctx, "pushups", 0, 120*time.Second); err != nil {
		t.Fatalf("StartWorkout during window failed: %v", err)
	}
	if _, err := f.controller.CompleteWorkout(ctx, 0); err != nil {
		t.Fatalf("CompleteWorkout failed: %v", err)
	}

	status, err := f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.UnlockRemaining != 360*time.Second {
		t.Errorf("Expected 360s remaining after extension, got %v", status.UnlockRemaining)
	}
}
