package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/earnlock/earnlock/internal/plan"
	"github.com/earnlock/earnlock/internal/storage"
	"github.com/rs/zerolog"
)

// Ledger is the daily usage bookkeeper: it accumulates earned and consumed
// unlock seconds per local calendar day and answers the cap question.
// Consumed time is derived upstream from elapsed wall-clock time while
// unlocked; the ledger never measures time itself.
type Ledger struct {
	store  storage.UsageStore
	caps   plan.Caps
	logger zerolog.Logger
}

// Stats summarizes today's ledger position.
type Stats struct {
	Date       string        `json:"date"`
	Earned     time.Duration `json:"earned"`
	Consumed   time.Duration `json:"consumed"`
	DailyCap   time.Duration `json:"daily_cap"` // 0 = unlimited
	Remaining  time.Duration `json:"remaining"` // 0 when unlimited or exhausted
	CapReached bool          `json:"cap_reached"`
}

// NewLedger creates a daily usage ledger.
func NewLedger(store storage.UsageStore, caps plan.Caps, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		caps:   caps,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// DateKey returns the local-date ledger key for a point in time.
func DateKey(now time.Time) string {
	return now.Format("2006-01-02")
}

// AddEarned credits earned unlock time to today's record.
func (l *Ledger) AddEarned(ctx context.Context, now time.Time, d time.Duration, tier plan.Tier) error {
	if d <= 0 {
		return nil
	}
	date := DateKey(now)
	if err := l.store.AddDailyUsage(ctx, date, int64(d.Seconds()), 0, string(tier)); err != nil {
		return fmt.Errorf("add earned time: %w", err)
	}

	l.logger.Debug().
		Str("date", date).
		Int64("seconds", int64(d.Seconds())).
		Msg("Earned time recorded")

	return nil
}

// AddConsumed books consumed unlock time against today's record.
func (l *Ledger) AddConsumed(ctx context.Context, now time.Time, d time.Duration, tier plan.Tier) error {
	if d <= 0 {
		return nil
	}
	date := DateKey(now)
	if err := l.store.AddDailyUsage(ctx, date, 0, int64(d.Seconds()), string(tier)); err != nil {
		return fmt.Errorf("add consumed time: %w", err)
	}
	return nil
}

// Today returns today's record, zero-valued when nothing has been booked yet.
func (l *Ledger) Today(ctx context.Context, now time.Time) (*storage.DailyUsage, error) {
	date := DateKey(now)
	usage, err := l.store.GetDailyUsage(ctx, date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &storage.DailyUsage{Date: date}, nil
		}
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	return usage, nil
}

// HitDailyCap reports whether today's consumed time has reached the cap for
// the tier. A zero cap means unlimited.
func (l *Ledger) HitDailyCap(ctx context.Context, now time.Time, tier plan.Tier) (bool, error) {
	cap := l.caps.DailyCap(tier)
	if cap == 0 {
		return false, nil
	}

	usage, err := l.Today(ctx, now)
	if err != nil {
		return false, err
	}

	return usage.ConsumedSeconds >= int64(cap.Seconds()), nil
}

// Stats returns today's position against the tier cap.
func (l *Ledger) Stats(ctx context.Context, now time.Time, tier plan.Tier) (*Stats, error) {
	usage, err := l.Today(ctx, now)
	if err != nil {
		return nil, err
	}

	cap := l.caps.DailyCap(tier)
	stats := &Stats{
		Date:     usage.Date,
		Earned:   time.Duration(usage.EarnedSeconds) * time.Second,
		Consumed: time.Duration(usage.ConsumedSeconds) * time.Second,
		DailyCap: cap,
	}

	if cap > 0 {
		stats.CapReached = stats.Consumed >= cap
		if !stats.CapReached {
			stats.Remaining = cap - stats.Consumed
		}
	}

	return stats, nil
}

// History returns the last days records ending today, oldest first, with
// zero-filled entries for days with no activity. Used for the fixed 7-day
// weekly summary.
func (l *Ledger) History(ctx context.Context, now time.Time, days int) ([]storage.DailyUsage, error) {
	if days <= 0 {
		return []storage.DailyUsage{}, nil
	}

	from := now.AddDate(0, 0, -(days - 1))
	records, err := l.store.ListDailyUsage(ctx, DateKey(from), DateKey(now))
	if err != nil {
		return nil, fmt.Errorf("list daily usage: %w", err)
	}

	byDate := make(map[string]storage.DailyUsage, len(records))
	for _, r := range records {
		byDate[r.Date] = r
	}

	history := make([]storage.DailyUsage, 0, days)
	for i := 0; i < days; i++ {
		date := DateKey(from.AddDate(0, 0, i))
		if r, ok := byDate[date]; ok {
			history = append(history, r)
		} else {
			history = append(history, storage.DailyUsage{Date: date})
		}
	}

	return history, nil
}

// WeekSummary is the fixed 7-day view ending today.
func (l *Ledger) WeekSummary(ctx context.Context, now time.Time) ([]storage.DailyUsage, error) {
	return l.History(ctx, now, 7)
}
