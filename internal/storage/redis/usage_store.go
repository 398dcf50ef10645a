package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/earnlock/earnlock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

func usageKey(date string) string {
	return fmt.Sprintf("earnlock:usage:daily:%s", date)
}

// GetDailyUsage retrieves the ledger record for a specific date
func (s *usageStore) GetDailyUsage(ctx context.Context, date string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, usageKey(date)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseDailyUsage(data)
}

// AddDailyUsage atomically increments (or creates) the daily record
func (s *usageStore) AddDailyUsage(ctx context.Context, date string, earnedSeconds, consumedSeconds int64, tier string) error {
	script := redis.NewScript(addDailyUsageScript)

	keys := []string{usageKey(date)}
	args := []interface{}{
		date,
		earnedSeconds,
		consumedSeconds,
		tier,
		time.Now().Format(time.RFC3339Nano),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ListDailyUsage returns records in the inclusive [fromDate, toDate] range.
// The range is bounded by the retention window, so walking it day by day with
// a pipeline is cheap.
func (s *usageStore) ListDailyUsage(ctx context.Context, fromDate, toDate string) ([]storage.DailyUsage, error) {
	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid from date: %w", err)
	}
	to, err := time.Parse("2006-01-02", toDate)
	if err != nil {
		return nil, fmt.Errorf("invalid to date: %w", err)
	}

	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}

	if len(dates) == 0 {
		return []storage.DailyUsage{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, usageKey(date))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	usages := make([]storage.DailyUsage, 0, len(dates))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		usage, err := parseDailyUsage(data)
		if err == nil {
			usages = append(usages, *usage)
		}
	}

	return usages, nil
}

// DeleteDailyUsageBefore deletes records older than the cutoff date.
// The retention TTL expires keys automatically; this scan handles the case
// where retention is shortened below the TTL window.
func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse("2006-01-02", cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, "earnlock:usage:daily:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		toDelete := make([]string, 0)
		for _, key := range keys {
			// Key layout: earnlock:usage:daily:{date}
			date := key[len("earnlock:usage:daily:"):]
			if date < cutoffDate {
				toDelete = append(toDelete, key)
			}
		}

		if len(toDelete) > 0 {
			deleted, err := s.client.Del(ctx, toDelete...).Result()
			if err != nil {
				return deletedCount, err
			}
			deletedCount += int(deleted)
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}
