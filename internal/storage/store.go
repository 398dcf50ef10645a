package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Emergency() EmergencyStore
	Targets() TargetStore
	Plans() PlanStore
}

// UsageStore manages the daily usage ledger records.
type UsageStore interface {
	GetDailyUsage(ctx context.Context, date string) (*DailyUsage, error)
	// AddDailyUsage atomically adds earned/consumed seconds to the record for
	// date, creating it lazily. The plan tier is recorded as-of last write.
	AddDailyUsage(ctx context.Context, date string, earnedSeconds, consumedSeconds int64, tier string) error
	ListDailyUsage(ctx context.Context, fromDate, toDate string) ([]DailyUsage, error)
	DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error)
}

// EmergencyStore persists emergency unlock quota state and settings.
type EmergencyStore interface {
	GetState(ctx context.Context) (*EmergencyState, error)
	PutState(ctx context.Context, state EmergencyState) error
	GetSettings(ctx context.Context) (*EmergencySettings, error)
	PutSettings(ctx context.Context, settings EmergencySettings) error
}

// TargetStore persists the configured block-target list.
type TargetStore interface {
	Get(ctx context.Context) (*TargetList, error)
	Put(ctx context.Context, targets TargetList) error
}

// PlanStore persists cached subscription status. The status is written from
// payment-webhook-derived events upstream; this process only reads it.
type PlanStore interface {
	Get(ctx context.Context) (*PlanStatus, error)
	Put(ctx context.Context, status PlanStatus) error
}
