package bolt

import (
	"context"

	"github.com/earnlock/earnlock/internal/storage"
	"go.etcd.io/bbolt"
)

type planStore struct {
	db *bbolt.DB
}

func (s *planStore) Get(ctx context.Context) (*storage.PlanStatus, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return getValue[storage.PlanStatus](s.db, bucketPlan, keyPlanStatus)
}

func (s *planStore) Put(ctx context.Context, status storage.PlanStatus) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return putValue(s.db, bucketPlan, keyPlanStatus, status)
}
