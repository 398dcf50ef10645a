package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/earnlock/earnlock/internal/storage"
)

func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	usage := &storage.DailyUsage{
		Date:     data["date"],
		PlanTier: data["plan_tier"],
	}

	if v, ok := data["earned_seconds"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse earned_seconds: %w", err)
		}
		usage.EarnedSeconds = n
	}

	if v, ok := data["consumed_seconds"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse consumed_seconds: %w", err)
		}
		usage.ConsumedSeconds = n
	}

	if v, ok := data["last_updated"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse last_updated: %w", err)
		}
		usage.LastUpdated = t
	}

	return usage, nil
}
