package bolt

import (
	"context"

	"github.com/earnlock/earnlock/internal/storage"
	"go.etcd.io/bbolt"
)

type targetStore struct {
	db *bbolt.DB
}

func (s *targetStore) Get(ctx context.Context) (*storage.TargetList, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return getValue[storage.TargetList](s.db, bucketTargets, keyTargetsCurrent)
}

func (s *targetStore) Put(ctx context.Context, targets storage.TargetList) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return putValue(s.db, bucketTargets, keyTargetsCurrent, targets)
}
