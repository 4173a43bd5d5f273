package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only market snapshots and price history are cached, and they serve
// display reads only. The trade-log aggregations backing limit checks
// always hit the primary, and trade execution must read quantities through
// Primary: a read-through repopulation can race the post-fill invalidation
// and park a pre-fill snapshot in Redis, so a cached GetMarket is never
// safe to quote against.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the wrapped uncached store. The engine is constructed
// over the primary so fills always quote against committed quantities.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) ApplyFill(ctx context.Context, marketID string, afterQ []decimal.Decimal, trade *model.Trade, point *model.PricePoint) error {
	if err := s.primary.ApplyFill(ctx, marketID, afterQ, trade, point); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(marketID), historyKey(marketID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) PriceHistory(ctx context.Context, marketID string) ([]model.PricePoint, error) {
	data, err := s.rdb.Get(ctx, historyKey(marketID)).Bytes()
	if err == nil {
		var points []model.PricePoint
		if json.Unmarshal(data, &points) == nil {
			return points, nil
		}
	}

	points, err := s.primary.PriceHistory(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(points); err == nil {
		s.rdb.Set(ctx, historyKey(marketID), data, s.ttl)
	}
	return points, nil
}

// --- Passthrough (never cached: commit-path reads must be fresh) ---

func (s *CachedStore) ListMarkets(ctx context.Context, f ListFilter) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, f)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.TradesByMarket(ctx, marketID)
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.TradesByUser(ctx, userID)
}

func (s *CachedStore) UserOutcomeShares(ctx context.Context, userID, marketID, outcomeID string) (decimal.Decimal, error) {
	return s.primary.UserOutcomeShares(ctx, userID, marketID, outcomeID)
}

func (s *CachedStore) UserMarketSpendSince(ctx context.Context, userID, marketID string, since time.Time) (decimal.Decimal, error) {
	return s.primary.UserMarketSpendSince(ctx, userID, marketID, since)
}

func (s *CachedStore) OutcomeHolders(ctx context.Context, marketID, outcomeID string) (map[string]decimal.Decimal, error) {
	return s.primary.OutcomeHolders(ctx, marketID, outcomeID)
}

func (s *CachedStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	return s.primary.AppendAudit(ctx, e)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string  { return fmt.Sprintf("market:%s", id) }
func historyKey(id string) string { return fmt.Sprintf("history:%s", id) }
