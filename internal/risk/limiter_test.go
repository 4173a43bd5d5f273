package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckPosition_WithinLimit(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	require.NoError(t, l.CheckPosition(d(100), d(50)))
}

func TestCheckPosition_ExactlyAtLimit(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	assert.NoError(t, l.CheckPosition(d(400), d(100)))
}

func TestCheckPosition_Exceeded(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	err := l.CheckPosition(d(450), d(100))
	assert.ErrorIs(t, err, ErrPositionLimitExceeded)
	assert.Contains(t, err.Error(), "550")
	assert.Contains(t, err.Error(), "500")
}

func TestCheckPosition_ShortSideCapped(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	err := l.CheckPosition(d(-450), d(-100))
	assert.ErrorIs(t, err, ErrPositionLimitExceeded)
}

func TestCheckPosition_SellReducesExposure(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	assert.NoError(t, l.CheckPosition(d(500), d(-100)))
}

func TestCheckDailySpend_WithinLimit(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	assert.NoError(t, l.CheckDailySpend(d(150), d(50)))
}

func TestCheckDailySpend_Exceeded(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	err := l.CheckDailySpend(d(150), d(51))
	assert.ErrorIs(t, err, ErrDailySpendLimitExceeded)
	assert.Contains(t, err.Error(), "201")
}

func TestCheckDailySpend_SellsNeverBlocked(t *testing.T) {
	l := NewLimiter(d(500), d(200))
	// Even with the window exhausted, sells pass.
	assert.NoError(t, l.CheckDailySpend(d(200), d(-75)))
	assert.NoError(t, l.CheckDailySpend(d(200), decimal.Zero))
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-24*time.Hour), WindowStart(now))
}
