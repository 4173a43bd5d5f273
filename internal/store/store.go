// Package store defines the persistence interface for the forecast engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/model"
)

// ErrMarketNotFound is returned when a market id has no row.
var ErrMarketNotFound = errors.New("store: market not found")

// ListFilter narrows ListMarkets results. Zero values match everything.
type ListFilter struct {
	ClassID string
	Status  model.Status
	Type    model.MarketType
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// ApplyFill is the one compound write: the quantity-vector update, the
// immutable trade append, and the price-history snapshot must commit as a
// single unit. Everything else is a plain read or single-row write; the
// engine's per-market lock provides serialization above this layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market with its outcomes.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by ID with outcomes in display order.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets matching the filter, newest first.
	ListMarkets(ctx context.Context, f ListFilter) ([]model.Market, error)

	// UpdateMarket persists status, resolution, limits, and lifecycle
	// timestamps. Quantities are only ever written through ApplyFill.
	UpdateMarket(ctx context.Context, m *model.Market) error

	// ApplyFill atomically writes the post-trade quantity vector (aligned
	// with the market's display order), appends the immutable trade record,
	// and appends the price-history point.
	ApplyFill(ctx context.Context, marketID string, afterQ []decimal.Decimal, trade *model.Trade, point *model.PricePoint) error

	// --- Immutable trade log ---

	// TradesByMarket returns all trades for a market, oldest first.
	TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// TradesByUser returns all trades for a user, oldest first.
	TradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// UserOutcomeShares returns the user's net shares in one outcome.
	UserOutcomeShares(ctx context.Context, userID, marketID, outcomeID string) (decimal.Decimal, error)

	// UserMarketSpendSince sums the user's positive-cost trades in a market
	// at or after the cutoff. Sells never reduce the sum.
	UserMarketSpendSince(ctx context.Context, userID, marketID string, since time.Time) (decimal.Decimal, error)

	// OutcomeHolders returns net shares per user for one outcome, for
	// settlement. Users whose net position is zero or negative are omitted.
	OutcomeHolders(ctx context.Context, marketID, outcomeID string) (map[string]decimal.Decimal, error)

	// --- Price history ---

	// PriceHistory returns the append-only price log, oldest first.
	PriceHistory(ctx context.Context, marketID string) ([]model.PricePoint, error)

	// --- Audit log ---

	// AppendAudit appends an immutable audit record.
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
}
