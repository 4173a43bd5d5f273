package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classcoin/forecast-engine/internal/model"
	"github.com/classcoin/forecast-engine/internal/store"
)

func newCachedStore(t *testing.T) (*store.CachedStore, *store.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ms := store.NewMemoryStore()
	return store.NewCachedStore(ms, rdb, time.Minute), ms, mr
}

func fillMarket(t *testing.T, st store.Store, m *model.Market, shares float64) {
	t.Helper()
	tr := &model.Trade{
		ID: "t-" + m.ID, MarketID: m.ID, OutcomeID: m.Outcomes[0].ID, UserID: "student1",
		Shares: d(shares), Cost: d(shares / 2), CreatedAt: time.Now().UTC(),
	}
	point := &model.PricePoint{MarketID: m.ID, Timestamp: tr.CreatedAt}
	require.NoError(t, st.ApplyFill(context.Background(), m.ID,
		[]decimal.Decimal{d(shares), decimal.Zero}, tr, point))
}

func TestCachedStore_ReadThrough(t *testing.T) {
	cs, ms, mr := newCachedStore(t)
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()

	assert.False(t, mr.Exists("market:m1"))

	got, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.True(t, mr.Exists("market:m1"), "miss populates the cache")

	// A write directly to the primary is invisible until the entry expires:
	// the second read is served from Redis.
	m.Status = model.StatusPaused
	require.NoError(t, ms.UpdateMarket(ctx, m))

	cached, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLive, cached.Status)
}

func TestCachedStore_ApplyFillInvalidates(t *testing.T) {
	cs, ms, mr := newCachedStore(t)
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()

	_, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	_, err = cs.PriceHistory(ctx, "m1")
	require.NoError(t, err)
	require.True(t, mr.Exists("market:m1"))
	require.True(t, mr.Exists("history:m1"))

	fillMarket(t, cs, m, 10)

	assert.False(t, mr.Exists("market:m1"), "fill drops the market snapshot")
	assert.False(t, mr.Exists("history:m1"), "fill drops the cached history")

	got, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Outcomes[0].Quantity.Equal(d(10)))

	history, err := cs.PriceHistory(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCachedStore_UpdateMarketInvalidates(t *testing.T) {
	cs, ms, mr := newCachedStore(t)
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()

	_, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	require.True(t, mr.Exists("market:m1"))

	m.Status = model.StatusPaused
	require.NoError(t, cs.UpdateMarket(ctx, m))
	assert.False(t, mr.Exists("market:m1"))

	got, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, got.Status)
}

func TestCachedStore_AggregationsBypassCache(t *testing.T) {
	cs, ms, _ := newCachedStore(t)
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()

	// Warm the snapshot, then fill behind the cache's back. Limit-check
	// aggregations must still see the trade.
	_, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	fillMarket(t, ms, m, 10)

	shares, err := cs.UserOutcomeShares(ctx, "student1", m.ID, m.Outcomes[0].ID)
	require.NoError(t, err)
	assert.True(t, shares.Equal(d(10)))

	spent, err := cs.UserMarketSpendSince(ctx, "student1", m.ID, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, spent.Equal(d(5)))

	holders, err := cs.OutcomeHolders(ctx, m.ID, m.Outcomes[0].ID)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.True(t, holders["student1"].Equal(d(10)))
}

// A read-through repopulation can race the post-fill invalidation and park a
// pre-fill snapshot in Redis. Primary must keep serving committed quantities
// regardless, since that is what the engine quotes against.
func TestCachedStore_PrimaryServesCommittedState(t *testing.T) {
	cs, ms, mr := newCachedStore(t)
	m := seedMarket(t, ms, "m1", model.StatusLive)
	ctx := context.Background()

	_, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	preFill, err := mr.Get("market:m1")
	require.NoError(t, err)

	fillMarket(t, cs, m, 10)

	// A reader that loaded the market before the fill writes its snapshot
	// back after the invalidation.
	require.NoError(t, mr.Set("market:m1", preFill))

	cached, err := cs.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, cached.Outcomes[0].Quantity.IsZero(), "cache holds the pre-fill snapshot")

	committed, err := cs.Primary().GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, committed.Outcomes[0].Quantity.Equal(d(10)))
}

func TestCachedStore_FallsBackWhenRedisDown(t *testing.T) {
	cs, ms, mr := newCachedStore(t)
	seedMarket(t, ms, "m1", model.StatusLive)

	mr.Close()

	got, err := cs.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
}
