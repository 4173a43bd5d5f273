// Package engine implements trade quoting and execution, the market
// lifecycle state machine, and the portfolio projection on top of the LMSR
// cost function.
//
// Concurrency model: every mutating operation on a market (Execute,
// Approve, Pause, Resume, Resolve) serializes on that market's mutex;
// operations on different markets never block each other and there is no
// global lock. Reads (Quote, Prices, Portfolio, History) are lock-free
// against the latest committed state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/lmsr"
	"github.com/classcoin/forecast-engine/internal/metrics"
	"github.com/classcoin/forecast-engine/internal/model"
	"github.com/classcoin/forecast-engine/internal/risk"
	"github.com/classcoin/forecast-engine/internal/store"
	"github.com/classcoin/forecast-engine/internal/wallet"
)

// Engine coordinates the LMSR market maker, the store, and the wallet.
type Engine struct {
	store  store.Store
	wallet wallet.Wallet

	now func() time.Time // injected for spend-window tests

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine over the given store and wallet.
func New(st store.Store, w wallet.Wallet) *Engine {
	return &Engine{
		store:  st,
		wallet: w,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
}

// marketLock returns the mutex serializing writes to one market.
func (e *Engine) marketLock(marketID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[marketID] = l
	}
	return l
}

// QuoteResult is a read-only trade preview.
type QuoteResult struct {
	MarketID      string                     `json:"market_id"`
	OutcomeID     string                     `json:"outcome_id"`
	Shares        decimal.Decimal            `json:"shares"`
	Cost          decimal.Decimal            `json:"cost"`
	FillPrice     decimal.Decimal            `json:"fill_price"`
	CurrentPrices map[string]decimal.Decimal `json:"current_prices"`
	NewPrices     map[string]decimal.Decimal `json:"new_prices"`
}

// validateTrade runs the checks shared by Quote and Execute. Returns the
// market, the outcome index, and the market maker.
func (e *Engine) validateTrade(ctx context.Context, marketID, outcomeID string, shares decimal.Decimal) (*model.Market, int, *lmsr.MarketMaker, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, 0, nil, err
	}
	if !m.Status.CanTrade() {
		return nil, 0, nil, fmt.Errorf("%w: status %s", ErrMarketNotTradable, m.Status)
	}
	idx := m.OutcomeIndex(outcomeID)
	if idx < 0 {
		return nil, 0, nil, fmt.Errorf("%w: %s", ErrUnknownOutcome, outcomeID)
	}
	if shares.IsZero() {
		return nil, 0, nil, ErrZeroShareTrade
	}
	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("market %s has invalid configuration: %w", marketID, err)
	}
	return m, idx, mm, nil
}

// priceMap keys an ordered price slice by outcome id.
func priceMap(outcomes []model.Outcome, prices []decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(outcomes))
	for i, o := range outcomes {
		out[o.ID] = prices[i]
	}
	return out
}

// Quote previews a trade without mutating anything. It is safe to call on
// every UI keystroke; Execute re-validates everything, so a quote is never
// a reservation.
func (e *Engine) Quote(ctx context.Context, marketID, outcomeID, userID string, shares decimal.Decimal) (*QuoteResult, error) {
	m, idx, mm, err := e.validateTrade(ctx, marketID, outcomeID, shares)
	if err != nil {
		return nil, err
	}

	q, err := mm.QuoteTrade(m.Quantities(), idx, shares)
	if err != nil {
		return nil, err
	}
	fill, err := mm.FillPrice(m.Quantities(), idx, shares)
	if err != nil {
		return nil, err
	}

	return &QuoteResult{
		MarketID:      marketID,
		OutcomeID:     outcomeID,
		Shares:        shares,
		Cost:          q.Cost,
		FillPrice:     fill,
		CurrentPrices: priceMap(m.Outcomes, q.BeforePrices),
		NewPrices:     priceMap(m.Outcomes, q.AfterPrices),
	}, nil
}

// Execute validates and commits one trade. Validation order: market status,
// outcome, non-zero shares, position limit, rolling-24h spend limit,
// balance — all strictly before any mutation. The wallet debit and the
// store fill then form one failure domain: a store failure triggers a
// compensating wallet credit so neither side ever commits alone.
func (e *Engine) Execute(ctx context.Context, marketID, outcomeID, userID string, shares decimal.Decimal) (*model.Trade, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, idx, mm, err := e.validateTrade(ctx, marketID, outcomeID, shares)
	if err != nil {
		return nil, err
	}

	limiter := risk.NewLimiter(m.MaxPosition, m.MaxDailySpend)
	now := e.now()

	// 1. Position limit.
	current, err := e.store.UserOutcomeShares(ctx, userID, marketID, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("position check for %s: %w", userID, err)
	}
	if err := limiter.CheckPosition(current, shares); err != nil {
		metrics.LimitRejections.WithLabelValues("position").Inc()
		return nil, err
	}

	q, err := mm.QuoteTrade(m.Quantities(), idx, shares)
	if err != nil {
		return nil, err
	}

	// 2. Daily spend limit (purchases only).
	if q.Cost.IsPositive() {
		spent, err := e.store.UserMarketSpendSince(ctx, userID, marketID, risk.WindowStart(now))
		if err != nil {
			return nil, fmt.Errorf("spend check for %s: %w", userID, err)
		}
		if err := limiter.CheckDailySpend(spent, q.Cost); err != nil {
			metrics.LimitRejections.WithLabelValues("daily_spend").Inc()
			return nil, err
		}

		// 3. Balance check.
		balance, err := e.wallet.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(q.Cost) {
			metrics.LimitRejections.WithLabelValues("balance").Inc()
			return nil, fmt.Errorf("%w: have %s, need %s", wallet.ErrInsufficientBalance, balance, q.Cost)
		}
	}

	fill, err := mm.FillPrice(m.Quantities(), idx, shares)
	if err != nil {
		return nil, err
	}

	trade := &model.Trade{
		ID:           uuid.New().String(),
		MarketID:     marketID,
		OutcomeID:    outcomeID,
		UserID:       userID,
		Shares:       shares,
		Cost:         q.Cost,
		FillPrice:    fill,
		BeforePrices: priceMap(m.Outcomes, q.BeforePrices),
		AfterPrices:  priceMap(m.Outcomes, q.AfterPrices),
		CreatedAt:    now,
	}
	point := &model.PricePoint{
		MarketID:  marketID,
		Prices:    trade.AfterPrices,
		Timestamp: now,
	}

	// Debit (or credit, for sells) the wallet first; nothing else has been
	// touched yet, so a wallet failure needs no rollback.
	if err := e.wallet.AdjustBalance(ctx, userID, q.Cost.Neg()); err != nil {
		return nil, err
	}

	if err := e.store.ApplyFill(ctx, marketID, q.AfterQ, trade, point); err != nil {
		// Compensating credit: the fill did not commit, so the money must
		// come back. If even that fails we have an inconsistency that needs
		// operator attention.
		if werr := e.wallet.AdjustBalance(ctx, userID, q.Cost); werr != nil {
			slog.Error("compensating credit failed after fill rollback",
				"trade_id", trade.ID, "user", userID, "amount", q.Cost.String(), "err", werr)
		}
		return nil, fmt.Errorf("commit trade %s: %w", trade.ID, err)
	}

	metrics.TradesTotal.WithLabelValues(sideLabel(shares)).Inc()
	slog.Info("trade executed",
		"trade_id", trade.ID,
		"market", marketID,
		"outcome", outcomeID,
		"user", userID,
		"shares", shares.String(),
		"cost", q.Cost.String(),
		"fill_price", fill.String(),
	)

	return trade, nil
}

func sideLabel(shares decimal.Decimal) string {
	if shares.IsNegative() {
		return "sell"
	}
	return "buy"
}

// Prices returns the current price per outcome for one market. Works in
// any status; for a resolved market these are the last traded prices, not
// the settlement values.
func (e *Engine) Prices(ctx context.Context, marketID string) (map[string]decimal.Decimal, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	mm, err := lmsr.NewMarketMaker(m.B)
	if err != nil {
		return nil, err
	}
	return priceMap(m.Outcomes, mm.Prices(m.Quantities())), nil
}

// History returns the append-only price log for charting.
func (e *Engine) History(ctx context.Context, marketID string) ([]model.PricePoint, error) {
	if _, err := e.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return e.store.PriceHistory(ctx, marketID)
}
