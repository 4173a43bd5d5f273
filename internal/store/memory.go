package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
	trades  []model.Trade
	history map[string][]model.PricePoint
	audits  []model.AuditEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		history: make(map[string][]model.PricePoint),
	}
}

// copyMarket deep-copies a market so callers cannot mutate stored state.
func copyMarket(m *model.Market) *model.Market {
	c := *m
	c.Outcomes = make([]model.Outcome, len(m.Outcomes))
	copy(c.Outcomes, m.Outcomes)
	return &c
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, f ListFilter) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.ClassID != "" && m.ClassID != f.ClassID {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		markets = append(markets, *copyMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, m.ID)
	}
	cur.Status = m.Status
	cur.ResolvedOutcomeID = m.ResolvedOutcomeID
	cur.MaxPosition = m.MaxPosition
	cur.MaxDailySpend = m.MaxDailySpend
	cur.ApprovedAt = m.ApprovedAt
	cur.LiveAt = m.LiveAt
	cur.ResolvedAt = m.ResolvedAt
	return nil
}

func (s *MemoryStore) ApplyFill(_ context.Context, marketID string, afterQ []decimal.Decimal, trade *model.Trade, point *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if len(afterQ) != len(m.Outcomes) {
		return fmt.Errorf("quantity vector length %d != %d outcomes", len(afterQ), len(m.Outcomes))
	}

	for i := range m.Outcomes {
		m.Outcomes[i].Quantity = afterQ[i]
	}
	s.trades = append(s.trades, *trade)
	s.history[marketID] = append(s.history[marketID], *point)
	return nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) UserOutcomeShares(_ context.Context, userID, marketID, outcomeID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, t := range s.trades {
		if t.UserID == userID && t.MarketID == marketID && t.OutcomeID == outcomeID {
			total = total.Add(t.Shares)
		}
	}
	return total, nil
}

func (s *MemoryStore) UserMarketSpendSince(_ context.Context, userID, marketID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, t := range s.trades {
		if t.UserID == userID && t.MarketID == marketID &&
			t.Cost.IsPositive() && !t.CreatedAt.Before(since) {
			total = total.Add(t.Cost)
		}
	}
	return total, nil
}

func (s *MemoryStore) OutcomeHolders(_ context.Context, marketID, outcomeID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	net := make(map[string]decimal.Decimal)
	for _, t := range s.trades {
		if t.MarketID == marketID && t.OutcomeID == outcomeID {
			net[t.UserID] = net[t.UserID].Add(t.Shares)
		}
	}
	for user, shares := range net {
		if !shares.IsPositive() {
			delete(net, user)
		}
	}
	return net, nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, marketID string) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.history[marketID]
	result := make([]model.PricePoint, len(points))
	copy(result, points)
	return result, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits = append(s.audits, *e)
	return nil
}

// Audits returns all audit entries. Test helper.
func (s *MemoryStore) Audits() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.AuditEntry, len(s.audits))
	copy(result, s.audits)
	return result
}
