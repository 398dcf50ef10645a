package plan

import (
	"context"
	"errors"
	"time"

	"github.com/earnlock/earnlock/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const statusCacheKey = "status"

// Service resolves the current plan tier from the cached subscription status.
// Plan status is written upstream from payment-webhook events; this process
// never invents it locally, it only reads the store and falls back to free.
type Service struct {
	store  storage.PlanStore
	cache  *expirable.LRU[string, Tier]
	logger zerolog.Logger
}

// NewService creates a plan service with a short-lived status cache.
func NewService(store storage.PlanStore, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		store:  store,
		cache:  expirable.NewLRU[string, Tier](1, nil, cacheTTL),
		logger: logger.With().Str("component", "plan").Logger(),
	}
}

// Current returns the effective plan tier. Missing or inactive subscription
// status resolves to the free tier.
func (s *Service) Current(ctx context.Context) Tier {
	if tier, ok := s.cache.Get(statusCacheKey); ok {
		return tier
	}

	status, err := s.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to read plan status, treating as free tier")
		}
		s.cache.Add(statusCacheKey, TierFree)
		return TierFree
	}

	tier := TierFree
	if status.Active {
		tier = Parse(status.Tier)
	}

	s.cache.Add(statusCacheKey, tier)
	return tier
}

// Invalidate drops the cached status, forcing the next Current call to hit
// the store. Called when the status is known to have changed.
func (s *Service) Invalidate() {
	s.cache.Remove(statusCacheKey)
}
