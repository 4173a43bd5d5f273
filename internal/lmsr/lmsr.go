// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for multi-outcome prediction forecasts.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(n))
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal transcendental math uses the log-sum-exp trick for numerical
// stability, with results immediately converted to decimal.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrNoOutcomes is returned when the quantity vector is empty.
	ErrNoOutcomes = errors.New("lmsr: quantity vector must be non-empty")

	// ErrOutcomeIndex is returned when an outcome index is out of range.
	ErrOutcomeIndex = errors.New("lmsr: outcome index out of range")

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// MarketMaker implements the LMSR cost function over an n-outcome quantity
// vector. It is stateless — market quantities are passed as arguments, not
// stored.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates a new LMSR market maker with the given liquidity
// parameter b. Higher b → more liquidity, lower price impact per trade.
// Maximum market-maker loss is bounded by b * ln(n) for n outcomes.
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(Σ exp(x_i)) using the log-sum-exp trick to prevent
// floating-point overflow. Without this trick, exp(x) overflows float64
// when x > ~709.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
// Since (x_i - max(x)) <= 0, all exp arguments are in [0, 1].
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// scaled converts the decimal quantity vector to q_i/b as float64 for
// transcendental math.
func (m *MarketMaker) scaled(q []decimal.Decimal) []float64 {
	bf := m.b.InexactFloat64()
	xs := make([]float64, len(q))
	for i, qi := range q {
		xs[i] = qi.InexactFloat64() / bf
	}
	return xs
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(Σ exp(q_i / b))
//
// Uses logSumExp internally for numerical stability.
func (m *MarketMaker) Cost(q []decimal.Decimal) decimal.Decimal {
	lse := logSumExp(m.scaled(q))
	cost := m.b.InexactFloat64() * lse
	return decimal.NewFromFloat(cost).Round(PriceScale)
}

// Prices computes the instantaneous price (probability) for every outcome:
//
//	p_i = exp(q_i / b) / Σ_j exp(q_j / b)
//
// This is the softmax function, evaluated in log space so extreme
// quantities never overflow. The result is renormalized so prices sum to 1
// after floating-point drift.
func (m *MarketMaker) Prices(q []decimal.Decimal) []decimal.Decimal {
	if len(q) == 0 {
		return nil
	}

	xs := m.scaled(q)
	logDenom := logSumExp(xs)

	raw := make([]float64, len(xs))
	var total float64
	for i, x := range xs {
		raw[i] = math.Exp(x - logDenom)
		total += raw[i]
	}

	prices := make([]decimal.Decimal, len(raw))
	for i, p := range raw {
		if total > 0 {
			p /= total
		}
		prices[i] = decimal.NewFromFloat(p).Round(PriceScale)
	}
	return prices
}

// Price returns the instantaneous price for a single outcome.
func (m *MarketMaker) Price(q []decimal.Decimal, i int) (decimal.Decimal, error) {
	if i < 0 || i >= len(q) {
		return decimal.Zero, fmt.Errorf("%w: %d of %d", ErrOutcomeIndex, i, len(q))
	}
	return m.Prices(q)[i], nil
}

// QuoteCost computes the cost to change outcome i's quantity by delta shares:
//
//	cost = C(q with q_i += delta) - C(q)
//
// Positive delta = buying (positive cost to trader).
// Negative delta = selling (negative cost = payout to trader).
func (m *MarketMaker) QuoteCost(q []decimal.Decimal, i int, delta decimal.Decimal) (decimal.Decimal, error) {
	if len(q) == 0 {
		return decimal.Zero, ErrNoOutcomes
	}
	if i < 0 || i >= len(q) {
		return decimal.Zero, fmt.Errorf("%w: %d of %d", ErrOutcomeIndex, i, len(q))
	}

	after := make([]decimal.Decimal, len(q))
	copy(after, q)
	after[i] = after[i].Add(delta)

	return m.Cost(after).Sub(m.Cost(q)), nil
}

// Quote holds the full result of a quoted trade: the cost and the
// before/after market state, suitable for audit snapshots.
type Quote struct {
	Cost         decimal.Decimal
	BeforePrices []decimal.Decimal
	AfterQ       []decimal.Decimal
	AfterPrices  []decimal.Decimal
}

// QuoteTrade computes the cost of trading delta shares of outcome i along
// with before/after prices and the resulting quantity vector. It never
// mutates q.
func (m *MarketMaker) QuoteTrade(q []decimal.Decimal, i int, delta decimal.Decimal) (Quote, error) {
	cost, err := m.QuoteCost(q, i, delta)
	if err != nil {
		return Quote{}, err
	}

	afterQ := make([]decimal.Decimal, len(q))
	copy(afterQ, q)
	afterQ[i] = afterQ[i].Add(delta)

	return Quote{
		Cost:         cost,
		BeforePrices: m.Prices(q),
		AfterQ:       afterQ,
		AfterPrices:  m.Prices(afterQ),
	}, nil
}

// FillPrice returns the average execution price per share for a trade.
//
//	fillPrice = cost / delta
//
// Positive for both buys (cost>0, delta>0) and sells (cost<0, delta<0).
// A zero delta returns the current instantaneous price.
func (m *MarketMaker) FillPrice(q []decimal.Decimal, i int, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsZero() {
		return m.Price(q, i)
	}
	cost, err := m.QuoteCost(q, i, delta)
	if err != nil {
		return decimal.Zero, err
	}
	return cost.Div(delta).Round(PriceScale), nil
}

// MaxLoss returns the maximum possible loss for the market maker with n
// outcomes: b * ln(n). This is the bounded-subsidy guarantee — total payout
// minus total collected cost can never exceed it.
func (m *MarketMaker) MaxLoss(n int) decimal.Decimal {
	if n < 2 {
		return decimal.Zero
	}
	loss := m.b.InexactFloat64() * math.Log(float64(n))
	return decimal.NewFromFloat(loss).Round(PriceScale)
}
