package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/earnlock/earnlock/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyEmergencyState    = "earnlock:emergency:state"
	keyEmergencySettings = "earnlock:emergency:settings"
	keyTargets           = "earnlock:targets"
	keyPlanStatus        = "earnlock:plan:status"
)

func getJSON[T any](ctx context.Context, client *redis.Client, key string) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &value, nil
}

func putJSON(ctx context.Context, client *redis.Client, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return client.Set(ctx, key, data, 0).Err()
}

type emergencyStore struct {
	client *redis.Client
}

func (s *emergencyStore) GetState(ctx context.Context) (*storage.EmergencyState, error) {
	return getJSON[storage.EmergencyState](ctx, s.client, keyEmergencyState)
}

func (s *emergencyStore) PutState(ctx context.Context, state storage.EmergencyState) error {
	return putJSON(ctx, s.client, keyEmergencyState, state)
}

func (s *emergencyStore) GetSettings(ctx context.Context) (*storage.EmergencySettings, error) {
	return getJSON[storage.EmergencySettings](ctx, s.client, keyEmergencySettings)
}

func (s *emergencyStore) PutSettings(ctx context.Context, settings storage.EmergencySettings) error {
	return putJSON(ctx, s.client, keyEmergencySettings, settings)
}

type targetStore struct {
	client *redis.Client
}

func (s *targetStore) Get(ctx context.Context) (*storage.TargetList, error) {
	return getJSON[storage.TargetList](ctx, s.client, keyTargets)
}

func (s *targetStore) Put(ctx context.Context, targets storage.TargetList) error {
	return putJSON(ctx, s.client, keyTargets, targets)
}

type planStore struct {
	client *redis.Client
}

func (s *planStore) Get(ctx context.Context) (*storage.PlanStatus, error) {
	return getJSON[storage.PlanStatus](ctx, s.client, keyPlanStatus)
}

func (s *planStore) Put(ctx context.Context, status storage.PlanStatus) error {
	return putJSON(ctx, s.client, keyPlanStatus, status)
}
