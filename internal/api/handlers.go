package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/earnlock/earnlock/internal/controller"
	"github.com/earnlock/earnlock/internal/emergency"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/earnlock/earnlock/internal/unlock"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes. Invalid transitions
// and exhausted quotas are expected conditions, not server failures.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, unlock.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, controller.ErrDailyCapReached),
		errors.Is(err, emergency.ErrQuotaExhausted):
		status = http.StatusTooManyRequests
	case errors.Is(err, emergency.ErrPlanRequired),
		errors.Is(err, emergency.ErrDisabled):
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type workoutStartRequest struct {
	Type          string `json:"type"`
	TargetReps    int    `json:"target_reps"`
	EarnedSeconds int64  `json:"earned_seconds"`
}

type workoutStartResponse struct {
	SessionID     string `json:"session_id"`
	Type          string `json:"type"`
	TargetReps    int    `json:"target_reps"`
	EarnedSeconds int64  `json:"earned_seconds"`
}

func (s *Server) handleWorkoutStart(w http.ResponseWriter, r *http.Request) {
	var req workoutStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "workout type is required"})
		return
	}
	if req.EarnedSeconds <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "earned_seconds must be positive"})
		return
	}

	session, err := s.controller.StartWorkout(r.Context(), req.Type, req.TargetReps, time.Duration(req.EarnedSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, workoutStartResponse{
		SessionID:     session.ID,
		Type:          session.Type,
		TargetReps:    session.TargetReps,
		EarnedSeconds: int64(session.Earned.Seconds()),
	})
}

type workoutRepsRequest struct {
	CompletedReps int `json:"completed_reps"`
}

func (s *Server) handleWorkoutReps(w http.ResponseWriter, r *http.Request) {
	var req workoutRepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := s.controller.RecordReps(req.CompletedReps); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type workoutCompleteRequest struct {
	ActualReps int `json:"actual_reps"`
}

type workoutCompleteResponse struct {
	EarnedSeconds int64 `json:"earned_seconds"`
}

func (s *Server) handleWorkoutComplete(w http.ResponseWriter, r *http.Request) {
	var req workoutCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	earned, err := s.controller.CompleteWorkout(r.Context(), req.ActualReps)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, workoutCompleteResponse{
		EarnedSeconds: int64(earned.Seconds()),
	})
}

func (s *Server) handleWorkoutCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.CancelWorkout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.controller.Lock(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.UseEmergencyUnlock(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetEmergencySettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.controller.EmergencySettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutEmergencySettings(w http.ResponseWriter, r *http.Request) {
	var settings storage.EmergencySettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := s.controller.UpdateEmergencySettings(r.Context(), settings); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "days must be between 1 and 365"})
			return
		}
		days = parsed
	}

	history, err := s.controller.UsageHistory(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleUsageWeek(w http.ResponseWriter, r *http.Request) {
	week, err := s.controller.UsageHistory(r.Context(), 7)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

func (s *Server) handleGetTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.controller.Targets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handlePutTargets(w http.ResponseWriter, r *http.Request) {
	var list storage.TargetList
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := s.controller.UpdateTargets(r.Context(), list); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
