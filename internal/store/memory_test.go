package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classcoin/forecast-engine/internal/model"
	"github.com/classcoin/forecast-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedMarket(t *testing.T, ms *store.MemoryStore, id string, status model.Status) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:      id,
		ClassID: "class-5a",
		Title:   "seed " + id,
		Type:    model.TypeConcept,
		Status:  status,
		B:       d(100),
		Outcomes: []model.Outcome{
			{ID: id + "-yes", MarketID: id, Label: "Yes", DisplayOrder: 0, Quantity: decimal.Zero},
			{ID: id + "-no", MarketID: id, Label: "No", DisplayOrder: 1, Quantity: decimal.Zero},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, ms.CreateMarket(context.Background(), m))
	return m
}

func TestMemoryStore_GetMarketReturnsCopy(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1", model.StatusLive)

	got, err := ms.GetMarket(context.Background(), "m1")
	require.NoError(t, err)

	// Mutating the returned value must not leak into the store.
	got.Status = model.StatusResolved
	got.Outcomes[0].Quantity = d(999)

	again, err := ms.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLive, again.Status)
	assert.True(t, again.Outcomes[0].Quantity.IsZero())
}

func TestMemoryStore_GetMarketNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := ms.GetMarket(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrMarketNotFound)
}

func TestMemoryStore_ListMarketsFilters(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1", model.StatusLive)
	seedMarket(t, ms, "m2", model.StatusDraft)

	all, err := ms.ListMarkets(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	live, err := ms.ListMarkets(context.Background(), store.ListFilter{Status: model.StatusLive})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "m1", live[0].ID)

	none, err := ms.ListMarkets(context.Background(), store.ListFilter{ClassID: "other-class"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_ApplyFill(t *testing.T) {
	ms := store.NewMemoryStore()
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()

	trade := &model.Trade{
		ID:        "t1",
		MarketID:  m.ID,
		OutcomeID: m.Outcomes[0].ID,
		UserID:    "student1",
		Shares:    d(10),
		Cost:      d(5.12),
		CreatedAt: time.Now().UTC(),
	}
	point := &model.PricePoint{MarketID: m.ID, Timestamp: trade.CreatedAt}

	require.NoError(t, ms.ApplyFill(ctx, m.ID, []decimal.Decimal{d(10), decimal.Zero}, trade, point))

	got, err := ms.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Outcomes[0].Quantity.Equal(d(10)))

	trades, err := ms.TradesByMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	history, err := ms.PriceHistory(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemoryStore_ApplyFillRejectsBadVector(t *testing.T) {
	ms := store.NewMemoryStore()
	m := seedMarket(t, ms, "m1", model.StatusLive)

	err := ms.ApplyFill(context.Background(), m.ID,
		[]decimal.Decimal{d(10)}, // 1 quantity for 2 outcomes
		&model.Trade{ID: "t1", MarketID: m.ID}, &model.PricePoint{MarketID: m.ID})
	assert.Error(t, err)
}

func TestMemoryStore_Aggregations(t *testing.T) {
	ms := store.NewMemoryStore()
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	fill := func(id, user, outcome string, shares, cost float64, at time.Time) {
		t.Helper()
		tr := &model.Trade{
			ID: id, MarketID: m.ID, OutcomeID: outcome, UserID: user,
			Shares: d(shares), Cost: d(cost), CreatedAt: at,
		}
		require.NoError(t, ms.ApplyFill(ctx, m.ID,
			[]decimal.Decimal{decimal.Zero, decimal.Zero}, tr, &model.PricePoint{MarketID: m.ID, Timestamp: at}))
	}

	yes := m.Outcomes[0].ID
	fill("t1", "alice", yes, 10, 5, base)
	fill("t2", "alice", yes, 5, 3, base.Add(2*time.Hour))
	fill("t3", "alice", yes, -15, -7, base.Add(3*time.Hour))
	fill("t4", "bob", yes, 20, 11, base.Add(4*time.Hour))

	// Net shares per user and outcome.
	shares, err := ms.UserOutcomeShares(ctx, "alice", m.ID, yes)
	require.NoError(t, err)
	assert.True(t, shares.IsZero(), "alice is flat, got %s", shares)

	// Spend counts purchases only, within the window.
	spent, err := ms.UserMarketSpendSince(ctx, "alice", m.ID, base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, spent.Equal(d(3)), "only t2 is a buy inside the window, got %s", spent)

	// Holders exclude flat and short users.
	holders, err := ms.OutcomeHolders(ctx, m.ID, yes)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.True(t, holders["bob"].Equal(d(20)))
}
