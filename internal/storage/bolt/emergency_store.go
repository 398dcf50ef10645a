package bolt

import (
	"context"

	"github.com/earnlock/earnlock/internal/storage"
	"go.etcd.io/bbolt"
)

type emergencyStore struct {
	db *bbolt.DB
}

func (s *emergencyStore) GetState(ctx context.Context) (*storage.EmergencyState, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return getValue[storage.EmergencyState](s.db, bucketEmergency, keyEmergencyState)
}

func (s *emergencyStore) PutState(ctx context.Context, state storage.EmergencyState) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return putValue(s.db, bucketEmergency, keyEmergencyState, state)
}

func (s *emergencyStore) GetSettings(ctx context.Context) (*storage.EmergencySettings, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return getValue[storage.EmergencySettings](s.db, bucketEmergency, keyEmergencySettings)
}

func (s *emergencyStore) PutSettings(ctx context.Context, settings storage.EmergencySettings) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return putValue(s.db, bucketEmergency, keyEmergencySettings, settings)
}
