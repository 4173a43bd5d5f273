package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/lmsr"
	"github.com/classcoin/forecast-engine/internal/model"
)

// Portfolio recomputes a user's positions and P&L from the append-only
// trade log plus live ledger prices. Nothing here is cached or stored —
// the projection is trivially consistent with the trade log by
// construction.
func (e *Engine) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	trades, err := e.store.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	type key struct{ marketID, outcomeID string }
	type agg struct {
		shares decimal.Decimal
		avg    decimal.Decimal // volume-weighted cost per share
	}

	// Walk the log in order: buys re-weight the average cost, sells reduce
	// shares at the standing average.
	positions := make(map[key]*agg)
	var order []key
	for _, t := range trades {
		k := key{t.MarketID, t.OutcomeID}
		a, ok := positions[k]
		if !ok {
			a = &agg{}
			positions[k] = a
			order = append(order, k)
		}
		if t.Shares.IsPositive() {
			totalCost := a.shares.Mul(a.avg).Add(t.Cost)
			a.shares = a.shares.Add(t.Shares)
			if a.shares.IsPositive() {
				a.avg = totalCost.Div(a.shares).Round(lmsr.PriceScale)
			}
		} else {
			a.shares = a.shares.Add(t.Shares)
			if a.shares.IsZero() {
				a.avg = decimal.Zero
			}
		}
	}

	marketCache := make(map[string]*model.Market)
	getMarket := func(id string) (*model.Market, error) {
		if m, ok := marketCache[id]; ok {
			return m, nil
		}
		m, err := e.store.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		marketCache[id] = m
		return m, nil
	}

	p := &model.Portfolio{UserID: userID, Positions: []model.Position{}}
	one := decimal.NewFromInt(1)

	for _, k := range order {
		a := positions[k]
		if a.shares.IsZero() {
			continue
		}

		m, err := getMarket(k.marketID)
		if err != nil {
			return nil, err
		}
		idx := m.OutcomeIndex(k.outcomeID)
		if idx < 0 {
			continue
		}

		pos := model.Position{
			UserID:          userID,
			MarketID:        k.marketID,
			MarketTitle:     m.Title,
			OutcomeID:       k.outcomeID,
			OutcomeLabel:    m.Outcomes[idx].Label,
			Shares:          a.shares,
			AvgCostPerShare: a.avg,
		}

		if m.Status == model.StatusResolved {
			// Winning shares redeemed at 1, losing at 0.
			if k.outcomeID == m.ResolvedOutcomeID {
				pos.CurrentPrice = one
				pos.Status = model.PositionWon
			} else {
				pos.CurrentPrice = decimal.Zero
				pos.Status = model.PositionLost
			}
		} else {
			mm, err := lmsr.NewMarketMaker(m.B)
			if err != nil {
				return nil, err
			}
			price, err := mm.Price(m.Quantities(), idx)
			if err != nil {
				return nil, err
			}
			pos.CurrentPrice = price
			pos.Status = model.PositionOpen

			if a.shares.IsPositive() {
				p.TotalInvested = p.TotalInvested.Add(a.shares.Mul(a.avg))
			}
		}

		pos.PnL = pos.CurrentPrice.Sub(pos.AvgCostPerShare).Mul(pos.Shares).Round(lmsr.PriceScale)
		p.TotalPnL = p.TotalPnL.Add(pos.PnL)
		p.Positions = append(p.Positions, pos)
	}

	sort.Slice(p.Positions, func(i, j int) bool {
		if p.Positions[i].MarketID != p.Positions[j].MarketID {
			return p.Positions[i].MarketID < p.Positions[j].MarketID
		}
		return p.Positions[i].OutcomeID < p.Positions[j].OutcomeID
	})

	balance, err := e.wallet.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Balance = balance
	p.TotalValue = balance.Add(p.TotalInvested)

	return p, nil
}
