// Package risk enforces the per-user trading limits attached to a market:
// a cap on net position per outcome and a rolling-24h spend cap. Checks run
// strictly before any mutation; a rejected trade leaves no trace.
package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionLimitExceeded is returned when a trade would push the
	// user's absolute net position in an outcome beyond the market cap.
	ErrPositionLimitExceeded = errors.New("risk: position limit exceeded")

	// ErrDailySpendLimitExceeded is returned when a purchase would push the
	// user's rolling-24h spend in a market beyond the market cap.
	ErrDailySpendLimitExceeded = errors.New("risk: daily spend limit exceeded")
)

// SpendWindow is the rolling window for the spend cap. A rolling window
// rather than a calendar day: no midnight-boundary edge case.
const SpendWindow = 24 * time.Hour

// Limiter holds one market's per-user limits.
type Limiter struct {
	// MaxPosition is the maximum absolute net position in any one outcome.
	MaxPosition decimal.Decimal

	// MaxDailySpend is the maximum total of positive-cost trades across the
	// market within SpendWindow.
	MaxDailySpend decimal.Decimal
}

// NewLimiter creates a limiter from a market's limit attributes.
func NewLimiter(maxPosition, maxDailySpend decimal.Decimal) *Limiter {
	return &Limiter{MaxPosition: maxPosition, MaxDailySpend: maxDailySpend}
}

// CheckPosition validates that the user's resulting net position stays
// within the cap: |current + delta| <= MaxPosition. Applies to buys and
// sells alike — a large short via selling is as capped as a large long.
func (l *Limiter) CheckPosition(current, delta decimal.Decimal) error {
	next := current.Add(delta)
	if next.Abs().GreaterThan(l.MaxPosition) {
		return fmt.Errorf("%w: position %s exceeds max %s", ErrPositionLimitExceeded, next, l.MaxPosition)
	}
	return nil
}

// CheckDailySpend validates that a purchase fits the rolling spend cap:
// spentInWindow + cost <= MaxDailySpend. Sells (cost <= 0) never count
// against the cap and are never blocked by it.
func (l *Limiter) CheckDailySpend(spentInWindow, cost decimal.Decimal) error {
	if !cost.IsPositive() {
		return nil
	}
	total := spentInWindow.Add(cost)
	if total.GreaterThan(l.MaxDailySpend) {
		return fmt.Errorf("%w: spend %s exceeds max %s", ErrDailySpendLimitExceeded, total, l.MaxDailySpend)
	}
	return nil
}

// WindowStart returns the cutoff timestamp for the spend window ending now.
func WindowStart(now time.Time) time.Time {
	return now.Add(-SpendWindow)
}
