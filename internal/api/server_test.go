package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/earnlock/earnlock/internal/bridge"
	"github.com/earnlock/earnlock/internal/clock"
	"github.com/earnlock/earnlock/internal/controller"
	"github.com/earnlock/earnlock/internal/emergency"
	"github.com/earnlock/earnlock/internal/ledger"
	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/earnlock/earnlock/internal/storage/bolt"
	"github.com/earnlock/earnlock/internal/unlock"
	"github.com/rs/zerolog"
)

func testServer(t *testing.T) (*Server, *clock.TestClock, storage.Store) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "api.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	clk := &clock.TestClock{CurrentTime: now}

	machine := unlock.NewMachine(0, []string{"social"}, now)
	l := ledger.NewLedger(store.Usage(), plan.Caps{Free: time.Hour}, zerolog.Nop())
	quota := emergency.NewTracker(store.Emergency(), storage.EmergencySettings{
		Enabled: true, MaxPerDay: 3, MinutesPerUse: 15,
	}, zerolog.Nop())
	plans := plan.NewService(store.Plans(), time.Millisecond, zerolog.Nop())

	ctrl := controller.New(machine, l, quota, plans, bridge.NewNoop(), store.Targets(), clk, controller.Options{}, zerolog.Nop())

	return NewServer(Config{ListenAddr: "127.0.0.1:0"}, ctrl, zerolog.Nop()), clk, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_WorkoutLifecycle(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/v1/workout/start", map[string]any{
		"type": "squats", "target_reps": 20, "earned_seconds": 300,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for start, got %d: %s", rec.Code, rec.Body.String())
	}

	var started struct {
		SessionID     string `json:"session_id"`
		EarnedSeconds int64  `json:"earned_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("Failed to decode start response: %v", err)
	}
	if started.SessionID == "" {
		t.Error("Expected a session ID")
	}
	if started.EarnedSeconds != 300 {
		t.Errorf("Expected 300 earned seconds, got %d", started.EarnedSeconds)
	}

	// Duplicate start conflicts
	rec = doJSON(t, h, "POST", "/v1/workout/start", map[string]any{
		"type": "pushups", "earned_seconds": 150,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate start, got %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/v1/workout/reps", map[string]any{"completed_reps": 10})
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for reps update, got %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/v1/workout/complete", map[string]any{"actual_reps": 20})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for complete, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for status, got %d", rec.Code)
	}
	var status struct {
		State          string   `json:"state"`
		BlockedTargets []string `json:"blocked_targets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.State != "UNLOCKED" {
		t.Errorf("Expected UNLOCKED, got %s", status.State)
	}
	if len(status.BlockedTargets) != 0 {
		t.Errorf("Expected no blocked targets, got %v", status.BlockedTargets)
	}
}

func TestServer_ValidationErrors(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Handler()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing type", map[string]any{"earned_seconds": 300}},
		{"zero earned", map[string]any{"type": "squats", "earned_seconds": 0}},
		{"negative earned", map[string]any{"type": "squats", "earned_seconds": -10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, "POST", "/v1/workout/start", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestServer_CompleteWithoutWorkoutConflicts(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doJSON(t, s.Handler(), "POST", "/v1/workout/complete", map[string]any{"actual_reps": 5})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_EmergencyForbiddenOnFreeTier(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doJSON(t, s.Handler(), "POST", "/v1/emergency", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 on free tier, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_EmergencyQuota(t *testing.T) {
	s, _, store := testServer(t)
	h := s.Handler()

	err := store.Plans().Put(context.Background(), storage.PlanStatus{Tier: "pro", Active: true})
	if err != nil {
		t.Fatalf("Failed to set plan: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, "POST", "/v1/emergency", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for use %d, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, h, "POST", "/v1/emergency", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after quota exhaustion, got %d", rec.Code)
	}
}

func TestServer_TargetsRoundTrip(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "PUT", "/v1/targets", map[string]any{
		"ids":              []string{"social", "video"},
		"selection_tokens": []string{"token-1"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 for targets update, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/v1/targets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for targets get, got %d", rec.Code)
	}

	var list storage.TargetList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to decode targets: %v", err)
	}
	if len(list.IDs) != 2 || list.IDs[1] != "video" {
		t.Errorf("Unexpected target IDs: %v", list.IDs)
	}
}

func TestServer_UsageHistory(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "GET", "/v1/usage/week", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for week summary, got %d", rec.Code)
	}
	var week []storage.DailyUsage
	if err := json.Unmarshal(rec.Body.Bytes(), &week); err != nil {
		t.Fatalf("Failed to decode week summary: %v", err)
	}
	if len(week) != 7 {
		t.Errorf("Expected 7 entries, got %d", len(week))
	}

	rec = doJSON(t, h, "GET", "/v1/usage/history?days=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for days=0, got %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/v1/usage/history?days=400", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for days=400, got %d", rec.Code)
	}
}

func TestServer_EmergencySettings(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "GET", "/v1/emergency/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var settings storage.EmergencySettings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("Failed to decode settings: %v", err)
	}
	if settings.MaxPerDay != 3 || settings.MinutesPerUse != 15 {
		t.Errorf("Unexpected default settings: %+v", settings)
	}

	rec = doJSON(t, h, "PUT", "/v1/emergency/settings", storage.EmergencySettings{
		Enabled: true, MaxPerDay: 5, MinutesPerUse: 20,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid minutes_per_use, got %d", rec.Code)
	}

	rec = doJSON(t, h, "PUT", "/v1/emergency/settings", storage.EmergencySettings{
		Enabled: true, MaxPerDay: 5, MinutesPerUse: 30,
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for valid settings, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Health(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doJSON(t, s.Handler(), "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for health, got %d", rec.Code)
	}
}
