package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/earnlock/earnlock/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetDailyUsage(ctx context.Context, date string) (*storage.DailyUsage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return getValue[storage.DailyUsage](s.db, bucketDailyUsage, date)
}

func (s *usageStore) AddDailyUsage(ctx context.Context, date string, earnedSeconds, consumedSeconds int64, tier string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}
		var usage storage.DailyUsage
		if existing := b.Get([]byte(date)); existing != nil {
			if err := unmarshal(existing, &usage); err != nil {
				return err
			}
		} else {
			usage = storage.DailyUsage{Date: date}
		}
		usage.EarnedSeconds += earnedSeconds
		usage.ConsumedSeconds += consumedSeconds
		usage.PlanTier = tier
		usage.LastUpdated = time.Now()
		data, err := marshal(usage)
		if err != nil {
			return err
		}
		return b.Put([]byte(date), data)
	})
}

func (s *usageStore) ListDailyUsage(ctx context.Context, fromDate, toDate string) ([]storage.DailyUsage, error) {
	var usages []storage.DailyUsage
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		// Date-string keys sort chronologically, so a range scan works.
		for k, v := c.Seek([]byte(fromDate)); k != nil && bytes.Compare(k, []byte(toDate)) <= 0; k, v = c.Next() {
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			usages = append(usages, usage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usages, nil
}

func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse("2006-01-02", cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, []byte(cutoffDate)) < 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
}
