package ledger

import (
	"context"
	"time"

	"github.com/earnlock/earnlock/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes ledger records past the retention window once a
// day. The day boundary itself needs no work: records are keyed by date, so
// a new day simply starts a fresh record.
type RetentionScheduler struct {
	store         storage.UsageStore
	resetTime     time.Time // only hour and minute are used
	retentionDays int
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewRetentionScheduler creates a scheduler firing daily at resetTime (HH:MM).
func NewRetentionScheduler(store storage.UsageStore, resetTime string, retentionDays int, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsedTime, err := time.Parse("15:04", resetTime)
	if err != nil {
		return nil, err
	}

	rs := &RetentionScheduler{
		store:         store,
		resetTime:     parsedTime,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}

	return rs, nil
}

// Start begins the scheduler.
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("reset_time", rs.resetTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Usage retention scheduler started")
}

// Stop stops the scheduler.
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Usage retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	for {
		nextReset := rs.calculateNextReset()
		waitDuration := time.Until(nextReset)

		rs.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention cleanup")

		select {
		case <-time.After(waitDuration):
			rs.performCleanup()
		case <-rs.stopChan:
			return
		}
	}
}

func (rs *RetentionScheduler) calculateNextReset() time.Time {
	now := time.Now()

	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.resetTime.Hour(), rs.resetTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}

	return todayReset
}

func (rs *RetentionScheduler) performCleanup() {
	cutoffDate := time.Now().AddDate(0, 0, -rs.retentionDays).Format("2006-01-02")

	deleted, err := rs.store.DeleteDailyUsageBefore(context.Background(), cutoffDate)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clean up old daily usage records")
		return
	}

	rs.logger.Info().
		Int("records_deleted", deleted).
		Str("cutoff_date", cutoffDate).
		Msg("Retention cleanup complete")
}
