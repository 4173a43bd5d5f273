// Package model defines the core domain types shared across the forecast
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a market.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusLive     Status = "live"
	StatusPaused   Status = "paused"
	StatusResolved Status = "resolved"
)

// CanTrade reports whether trades are accepted in this status.
func (s Status) CanTrade() bool {
	return s == StatusLive
}

// CanResolve reports whether the market can transition to resolved.
func (s Status) CanResolve() bool {
	return s == StatusLive || s == StatusPaused
}

// Terminal reports whether no further transitions exist.
func (s Status) Terminal() bool {
	return s == StatusResolved
}

// MarketType classifies what a forecast is about.
type MarketType string

const (
	TypeConcept   MarketType = "concept"
	TypeDeadline  MarketType = "deadline"
	TypeWellbeing MarketType = "wellbeing"
)

// Outcome is one possible resolution of a market. Outcomes are owned
// exclusively by their market and ordered by DisplayOrder.
type Outcome struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	Label        string          `json:"label" db:"label"`
	DisplayOrder int             `json:"display_order" db:"display_order"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"` // net shares sold, signed
}

// Market is one prediction forecast. The outcome quantity vector is the
// sole state driving prices; B is fixed at creation.
type Market struct {
	ID                string          `json:"id" db:"id"`
	ClassID           string          `json:"class_id" db:"class_id"`
	CreatorID         string          `json:"creator_id" db:"creator_id"`
	Title             string          `json:"title" db:"title"`
	Description       string          `json:"description,omitempty" db:"description"`
	Type              MarketType      `json:"market_type" db:"market_type"`
	Status            Status          `json:"status" db:"status"`
	B                 decimal.Decimal `json:"b_param" db:"b_param"`
	MaxPosition       decimal.Decimal `json:"max_position" db:"max_position"`
	MaxDailySpend     decimal.Decimal `json:"max_daily_spend" db:"max_daily_spend"`
	ResolutionSource  string          `json:"resolution_source" db:"resolution_source"` // "manual" or "csv"
	ResolvedOutcomeID string          `json:"resolved_outcome_id,omitempty" db:"resolved_outcome_id"`
	Outcomes          []Outcome       `json:"outcomes"` // sorted by DisplayOrder
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	LiveAt            *time.Time      `json:"live_at,omitempty" db:"live_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Quantities returns the q-vector in display order.
func (m *Market) Quantities() []decimal.Decimal {
	q := make([]decimal.Decimal, len(m.Outcomes))
	for i, o := range m.Outcomes {
		q[i] = o.Quantity
	}
	return q
}

// OutcomeIndex returns the display-order index of an outcome id, or -1.
func (m *Market) OutcomeIndex(outcomeID string) int {
	for i, o := range m.Outcomes {
		if o.ID == outcomeID {
			return i
		}
	}
	return -1
}

// Trade is an immutable record of one executed fill. Once created these
// are never modified or deleted; the trade log is the system of record for
// positions and price history.
type Trade struct {
	ID           string                     `json:"id" db:"id"`
	MarketID     string                     `json:"market_id" db:"market_id"`
	OutcomeID    string                     `json:"outcome_id" db:"outcome_id"`
	UserID       string                     `json:"user_id" db:"user_id"`
	Shares       decimal.Decimal            `json:"shares" db:"shares"` // signed: +buy, -sell
	Cost         decimal.Decimal            `json:"cost" db:"cost"`     // signed: +user pays, -user receives
	FillPrice    decimal.Decimal            `json:"fill_price" db:"fill_price"`
	BeforePrices map[string]decimal.Decimal `json:"before_prices" db:"before_prices"` // outcome_id → price
	AfterPrices  map[string]decimal.Decimal `json:"after_prices" db:"after_prices"`
	CreatedAt    time.Time                  `json:"created_at" db:"created_at"`
}

// PricePoint is one entry of a market's append-only price history.
type PricePoint struct {
	MarketID  string                     `json:"market_id" db:"market_id"`
	Prices    map[string]decimal.Decimal `json:"prices" db:"prices"`
	Timestamp time.Time                  `json:"timestamp" db:"timestamp"`
}

// PositionStatus describes how a position stands against the market.
type PositionStatus string

const (
	PositionOpen PositionStatus = "open"
	PositionWon  PositionStatus = "won"
	PositionLost PositionStatus = "lost"
)

// Position is a user's net holding in one outcome of one market. It is
// always derived from the trade log, never stored independently.
type Position struct {
	UserID          string          `json:"user_id"`
	MarketID        string          `json:"market_id"`
	MarketTitle     string          `json:"market_title,omitempty"`
	OutcomeID       string          `json:"outcome_id"`
	OutcomeLabel    string          `json:"outcome_label,omitempty"`
	Shares          decimal.Decimal `json:"shares"`
	AvgCostPerShare decimal.Decimal `json:"avg_cost_per_share"` // volume-weighted
	CurrentPrice    decimal.Decimal `json:"current_price"`
	PnL             decimal.Decimal `json:"pnl"`
	Status          PositionStatus  `json:"status"`
}

// Portfolio aggregates all of a user's positions with balance and P&L.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Positions     []Position      `json:"positions"`
	Balance       decimal.Decimal `json:"balance"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalValue    decimal.Decimal `json:"total_value"` // balance + invested
	TotalPnL      decimal.Decimal `json:"total_pnl"`
}

// Payout is one settlement line item paid to a winning position holder.
type Payout struct {
	UserID string          `json:"user_id"`
	Shares decimal.Decimal `json:"shares"`
	Amount decimal.Decimal `json:"payout"`
}

// AuditEntry is an immutable record of a significant lifecycle action.
type AuditEntry struct {
	ID         string    `json:"id" db:"id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Action     string    `json:"action" db:"action"`
	ActorID    string    `json:"actor_id" db:"actor_id"`
	OldData    string    `json:"old_data,omitempty" db:"old_data"` // JSON
	NewData    string    `json:"new_data,omitempty" db:"new_data"` // JSON
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
