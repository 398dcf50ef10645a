package emergency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/earnlock/earnlock/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func testTracker(t *testing.T) *Tracker {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "emergency.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	defaults := storage.EmergencySettings{
		Enabled:       true,
		MaxPerDay:     3,
		MinutesPerUse: 15,
	}

	return NewTracker(store.Emergency(), defaults, zerolog.Nop())
}

func testNow() time.Time {
	return time.Date(2024, 1, 15, 14, 30, 0, 0, time.Local)
}

func TestTracker_QuotaExhaustionAndReset(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()
	now := testNow()

	for i := 0; i < 3; i++ {
		status, err := tracker.Use(ctx, now, plan.TierPro)
		if err != nil {
			t.Fatalf("Use %d failed: %v", i+1, err)
		}
		if status.UsedToday != i+1 {
			t.Errorf("Expected used_today %d, got %d", i+1, status.UsedToday)
		}
	}

	if _, err := tracker.Use(ctx, now, plan.TierPro); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("Expected ErrQuotaExhausted on fourth use, got %v", err)
	}

	// Next day the counter resets and a use succeeds again
	nextDay := now.AddDate(0, 0, 1)
	if err := tracker.CheckReset(ctx, nextDay); err != nil {
		t.Fatalf("CheckReset failed: %v", err)
	}

	status, err := tracker.Use(ctx, nextDay, plan.TierPro)
	if err != nil {
		t.Fatalf("Use after reset failed: %v", err)
	}
	if status.UsedToday != 1 {
		t.Errorf("Expected used_today 1 after reset, got %d", status.UsedToday)
	}
}

func TestTracker_CheckResetIdempotent(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()
	now := testNow()

	if _, err := tracker.Use(ctx, now, plan.TierPro); err != nil {
		t.Fatalf("Use failed: %v", err)
	}

	// Same-day resets never touch the counter
	for i := 0; i < 2; i++ {
		if err := tracker.CheckReset(ctx, now.Add(time.Hour)); err != nil {
			t.Fatalf("CheckReset failed: %v", err)
		}
	}

	status, err := tracker.CurrentStatus(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.UsedToday != 1 {
		t.Errorf("Expected used_today 1 after same-day resets, got %d", status.UsedToday)
	}
}

func TestTracker_PlanGating(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()
	now := testNow()

	if _, err := tracker.Use(ctx, now, plan.TierFree); !errors.Is(err, ErrPlanRequired) {
		t.Errorf("Expected ErrPlanRequired for free tier, got %v", err)
	}

	// A rejected attempt must not consume quota
	status, err := tracker.CurrentStatus(ctx, now)
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.UsedToday != 0 {
		t.Errorf("Expected used_today 0 after rejection, got %d", status.UsedToday)
	}

	for _, tier := range []plan.Tier{plan.TierPro, plan.TierAdvanced} {
		if _, err := tracker.Use(ctx, now, tier); err != nil {
			t.Errorf("Use for %s tier failed: %v", tier, err)
		}
	}
}

func TestTracker_Disabled(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()
	now := testNow()

	if err := tracker.UpdateSettings(ctx, storage.EmergencySettings{
		Enabled:       false,
		MaxPerDay:     3,
		MinutesPerUse: 15,
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	if _, err := tracker.Use(ctx, now, plan.TierPro); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
}

func TestTracker_UpdateSettingsValidation(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()

	for _, minutes := range []int{10, 15, 30} {
		err := tracker.UpdateSettings(ctx, storage.EmergencySettings{
			Enabled: true, MaxPerDay: 3, MinutesPerUse: minutes,
		})
		if err != nil {
			t.Errorf("UpdateSettings(%d) failed: %v", minutes, err)
		}
	}

	err := tracker.UpdateSettings(ctx, storage.EmergencySettings{
		Enabled: true, MaxPerDay: 3, MinutesPerUse: 20,
	})
	if err == nil {
		t.Error("Expected rejection for 20 minutes per use")
	}
}

func TestTracker_SessionExpiry(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()
	now := testNow()

	status, err := tracker.Use(ctx, now, plan.TierPro)
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if !status.Active {
		t.Fatal("Expected active session after use")
	}
	if status.Remaining != 15*time.Minute {
		t.Errorf("Expected 15m remaining, got %v", status.Remaining)
	}

	active, err := tracker.Active(ctx, now.Add(14*time.Minute))
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if !active {
		t.Error("Expected active at 14m")
	}

	// Expiry boundary is inclusive: at exactly +15m the session is over
	active, err = tracker.Active(ctx, now.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active {
		t.Error("Expected inactive at 15m")
	}
}

func TestTracker_SessionSurvivesMidnightReset(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()

	// 23:50: session runs until 00:05 next day
	lateNight := time.Date(2024, 1, 15, 23, 50, 0, 0, time.Local)
	if _, err := tracker.Use(ctx, lateNight, plan.TierPro); err != nil {
		t.Fatalf("Use failed: %v", err)
	}

	justAfterMidnight := lateNight.Add(12 * time.Minute)
	if err := tracker.CheckReset(ctx, justAfterMidnight); err != nil {
		t.Fatalf("CheckReset failed: %v", err)
	}

	status, err := tracker.CurrentStatus(ctx, justAfterMidnight)
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if !status.Active {
		t.Error("Expected session to survive midnight reset")
	}
	if status.UsedToday != 0 {
		t.Errorf("Expected counter reset to 0, got %d", status.UsedToday)
	}
}

func TestTracker_MergeNative(t *testing.T) {
	tracker := testTracker(t)
	ctx := context.Background()
	now := testNow()

	if _, err := tracker.Use(ctx, now, plan.TierPro); err != nil {
		t.Fatalf("Use failed: %v", err)
	}

	// Native side reports more uses and a later expiry: both win
	laterExpiry := now.Add(25 * time.Minute)
	if err := tracker.MergeNative(ctx, now, 2, laterExpiry); err != nil {
		t.Fatalf("MergeNative failed: %v", err)
	}

	status, err := tracker.CurrentStatus(ctx, now)
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.UsedToday != 2 {
		t.Errorf("Expected merged used_today 2, got %d", status.UsedToday)
	}
	if status.Expiry == nil || !status.Expiry.Equal(laterExpiry) {
		t.Errorf("Expected merged expiry %v, got %v", laterExpiry, status.Expiry)
	}

	// Stale native data never regresses local state
	if err := tracker.MergeNative(ctx, now, 1, now.Add(5*time.Minute)); err != nil {
		t.Fatalf("MergeNative failed: %v", err)
	}
	status, err = tracker.CurrentStatus(ctx, now)
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.UsedToday != 2 {
		t.Errorf("Expected used_today unchanged at 2, got %d", status.UsedToday)
	}
	if status.Expiry == nil || !status.Expiry.Equal(laterExpiry) {
		t.Errorf("Expected expiry unchanged, got %v", status.Expiry)
	}
}
