// Package navfeed consumes NAV updates from the realtime distributor and
// serves non-blocking NAV snapshot reads to the pricing path.
package navfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantora/fundmatch/internal/orderstore"
)

// Source provides the current NAV per unit for a fund. Reads are snapshot
// reads and never hold any matching critical section.
type Source interface {
	CurrentNAV(ctx context.Context, fundID uuid.UUID) (decimal.Decimal, error)
}

// StoreSource reads NAV straight from the order store.
type StoreSource struct {
	store orderstore.Store
}

// NewStoreSource creates a Source backed only by the store.
func NewStoreSource(store orderstore.Store) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) CurrentNAV(ctx context.Context, fundID uuid.UUID) (decimal.Decimal, error) {
	fund, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}
	return fund.CurrentNAV, nil
}

// CachedSource serves NAV from a redis snapshot written by the distributor,
// falling back to the store on cache miss.
type CachedSource struct {
	redis    *redis.Client
	fallback Source
	logger   *zap.Logger
	ttl      time.Duration
}

// NewCachedSource creates a redis-backed Source with a store fallback.
func NewCachedSource(client *redis.Client, fallback Source, logger *zap.Logger, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedSource{redis: client, fallback: fallback, logger: logger, ttl: ttl}
}

func navKey(fundID uuid.UUID) string {
	return fmt.Sprintf("fundmatch:nav:%s", fundID)
}

func (s *CachedSource) CurrentNAV(ctx context.Context, fundID uuid.UUID) (decimal.Decimal, error) {
	raw, err := s.redis.Get(ctx, navKey(fundID)).Result()
	if err == nil {
		nav, perr := decimal.NewFromString(raw)
		if perr == nil {
			return nav, nil
		}
		s.logger.Warn("Discarding unparseable NAV snapshot",
			zap.String("fund_id", fundID.String()), zap.String("value", raw))
	} else if err != redis.Nil {
		s.logger.Warn("NAV snapshot read failed, falling back to store",
			zap.String("fund_id", fundID.String()), zap.Error(err))
	}

	nav, err := s.fallback.CurrentNAV(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}
	if setErr := s.redis.Set(ctx, navKey(fundID), nav.String(), s.ttl).Err(); setErr != nil {
		s.logger.Warn("NAV snapshot backfill failed", zap.Error(setErr))
	}
	return nav, nil
}

// Put writes a NAV snapshot. Called by the distributor on every update.
func (s *CachedSource) Put(ctx context.Context, fundID uuid.UUID, nav decimal.Decimal) error {
	return s.redis.Set(ctx, navKey(fundID), nav.String(), s.ttl).Err()
}
