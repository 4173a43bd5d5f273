package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/lmsr"
	"github.com/classcoin/forecast-engine/internal/metrics"
	"github.com/classcoin/forecast-engine/internal/model"
)

// Defaults applied at creation when the caller leaves a field zero.
var (
	DefaultB             = decimal.NewFromInt(100)
	DefaultMaxPosition   = decimal.NewFromInt(500)
	DefaultMaxDailySpend = decimal.NewFromInt(200)
)

// OutcomeSpec describes one outcome at market creation.
type OutcomeSpec struct {
	Label        string `json:"label"`
	DisplayOrder int    `json:"display_order"`
}

// CreateParams describes a new market. Status may be draft (default),
// pending (review requested), or live (no review step) — both entry points
// are valid; the engine does not mandate which.
type CreateParams struct {
	ClassID          string
	CreatorID        string
	Title            string
	Description      string
	Type             model.MarketType
	Status           model.Status
	B                decimal.Decimal
	MaxPosition      decimal.Decimal
	MaxDailySpend    decimal.Decimal
	ResolutionSource string
	Outcomes         []OutcomeSpec
}

// CreateMarket validates parameters and persists a new market. B is fixed
// for the market's whole life; only the two caps can change later.
func (e *Engine) CreateMarket(ctx context.Context, p CreateParams) (*model.Market, error) {
	b := p.B
	if b.IsZero() {
		b = DefaultB
	}
	if _, err := lmsr.NewMarketMaker(b); err != nil {
		return nil, err
	}

	if len(p.Outcomes) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 outcomes, got %d", ErrInvalidOutcomes, len(p.Outcomes))
	}
	allZero := true
	for _, o := range p.Outcomes {
		if strings.TrimSpace(o.Label) == "" {
			return nil, fmt.Errorf("%w: empty label", ErrInvalidOutcomes)
		}
		if o.DisplayOrder != 0 {
			allZero = false
		}
	}
	orders := make(map[int]bool, len(p.Outcomes))
	for i, o := range p.Outcomes {
		order := o.DisplayOrder
		if allZero {
			order = i
		}
		if orders[order] {
			return nil, fmt.Errorf("%w: duplicate display_order %d", ErrInvalidOutcomes, order)
		}
		orders[order] = true
	}

	status := p.Status
	switch status {
	case "":
		status = model.StatusDraft
	case model.StatusDraft, model.StatusPending, model.StatusLive:
	default:
		return nil, fmt.Errorf("%w: cannot create market in status %s", ErrInvalidTransition, status)
	}

	maxPos := p.MaxPosition
	if maxPos.IsZero() {
		maxPos = DefaultMaxPosition
	}
	maxSpend := p.MaxDailySpend
	if maxSpend.IsZero() {
		maxSpend = DefaultMaxDailySpend
	}
	if maxPos.IsNegative() || maxSpend.IsNegative() {
		return nil, fmt.Errorf("%w: limits must be positive", ErrInvalidOutcomes)
	}
	source := p.ResolutionSource
	if source == "" {
		source = "manual"
	}

	now := e.now()
	m := &model.Market{
		ID:               uuid.New().String(),
		ClassID:          p.ClassID,
		CreatorID:        p.CreatorID,
		Title:            p.Title,
		Description:      p.Description,
		Type:             p.Type,
		Status:           status,
		B:                b,
		MaxPosition:      maxPos,
		MaxDailySpend:    maxSpend,
		ResolutionSource: source,
		CreatedAt:        now,
	}
	if status == model.StatusLive {
		m.LiveAt = &now
	}

	labels := make([]string, 0, len(p.Outcomes))
	for i, spec := range p.Outcomes {
		order := spec.DisplayOrder
		if allZero {
			order = i
		}
		m.Outcomes = append(m.Outcomes, model.Outcome{
			ID:           uuid.New().String(),
			MarketID:     m.ID,
			Label:        spec.Label,
			DisplayOrder: order,
			Quantity:     decimal.Zero,
		})
		labels = append(labels, spec.Label)
	}
	sort.Slice(m.Outcomes, func(i, j int) bool {
		return m.Outcomes[i].DisplayOrder < m.Outcomes[j].DisplayOrder
	})

	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.audit(ctx, m.ID, "created", p.CreatorID, nil, map[string]any{
		"title":    p.Title,
		"type":     p.Type,
		"b_param":  b.String(),
		"status":   status,
		"outcomes": labels,
	})

	if status == model.StatusLive {
		metrics.LiveMarkets.Inc()
	}
	slog.Info("market created",
		"market", m.ID, "title", p.Title, "status", string(status), "b", b.String())
	return m, nil
}

// Approve transitions a draft or pending market to live. Rejected once the
// market is already live or beyond.
func (e *Engine) Approve(ctx context.Context, marketID, actorID string) (*model.Market, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case model.StatusDraft, model.StatusPending:
	case model.StatusResolved:
		return nil, ErrAlreadyResolved
	default:
		return nil, fmt.Errorf("%w: cannot approve market in status %s", ErrInvalidTransition, m.Status)
	}

	old := m.Status
	now := e.now()
	m.Status = model.StatusLive
	m.ApprovedAt = &now
	m.LiveAt = &now

	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.audit(ctx, m.ID, "approved", actorID,
		map[string]any{"status": old}, map[string]any{"status": model.StatusLive})
	metrics.LiveMarkets.Inc()
	slog.Info("market approved", "market", m.ID, "actor", actorID)
	return m, nil
}

// Pause blocks trading on a live market. Reversible via Resume.
func (e *Engine) Pause(ctx context.Context, marketID, actorID string) (*model.Market, error) {
	return e.flip(ctx, marketID, actorID, model.StatusLive, model.StatusPaused, "paused")
}

// Resume reopens trading on a paused market.
func (e *Engine) Resume(ctx context.Context, marketID, actorID string) (*model.Market, error) {
	return e.flip(ctx, marketID, actorID, model.StatusPaused, model.StatusLive, "resumed")
}

func (e *Engine) flip(ctx context.Context, marketID, actorID string, from, to model.Status, action string) (*model.Market, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}
	if m.Status != from {
		return nil, fmt.Errorf("%w: cannot move %s -> %s", ErrInvalidTransition, m.Status, to)
	}

	m.Status = to
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.audit(ctx, m.ID, action, actorID,
		map[string]any{"status": from}, map[string]any{"status": to})
	if to == model.StatusLive {
		metrics.LiveMarkets.Inc()
	} else {
		metrics.LiveMarkets.Dec()
	}
	slog.Info("market "+action, "market", m.ID, "actor", actorID)
	return m, nil
}

// Resolve sets the winning outcome and settles payouts in one pass:
// every holder of the winning outcome is paid 1 coin per net share held.
// The transition to resolved is terminal and is itself the at-most-once
// gate for settlement — there is no separate idempotency flag.
func (e *Engine) Resolve(ctx context.Context, marketID, outcomeID, actorID string) ([]model.Payout, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}
	if !m.Status.CanResolve() {
		return nil, fmt.Errorf("%w: cannot resolve market in status %s", ErrInvalidTransition, m.Status)
	}
	winIdx := m.OutcomeIndex(outcomeID)
	if winIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutcome, outcomeID)
	}

	holders, err := e.store.OutcomeHolders(ctx, marketID, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("settlement scan for %s: %w", marketID, err)
	}

	prev := *m
	now := e.now()
	m.Status = model.StatusResolved
	m.ResolvedOutcomeID = outcomeID
	m.ResolvedAt = &now

	// The resolution write is the one-time gate; payouts follow it.
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", marketID, err)
	}

	// Deterministic payout order.
	users := make([]string, 0, len(holders))
	for user := range holders {
		users = append(users, user)
	}
	sort.Strings(users)

	payouts := make([]model.Payout, 0, len(users))
	for _, user := range users {
		shares := holders[user]
		if err := e.wallet.AdjustBalance(ctx, user, shares); err != nil {
			// Roll the whole settlement back: re-debit everyone already
			// paid, then revert the resolution so a retry can settle.
			for _, p := range payouts {
				if werr := e.wallet.AdjustBalance(ctx, p.UserID, p.Amount.Neg()); werr != nil {
					slog.Error("settlement rollback debit failed",
						"market", marketID, "user", p.UserID, "amount", p.Amount.String(), "err", werr)
				}
			}
			if serr := e.store.UpdateMarket(ctx, &prev); serr != nil {
				slog.Error("settlement rollback failed to revert resolution",
					"market", marketID, "err", serr)
			}
			return nil, fmt.Errorf("settle %s for user %s: %w", marketID, user, err)
		}
		payouts = append(payouts, model.Payout{UserID: user, Shares: shares, Amount: shares})
	}

	e.audit(ctx, m.ID, "resolved", actorID, nil, map[string]any{
		"status":              model.StatusResolved,
		"resolved_outcome_id": outcomeID,
		"winners":             len(payouts),
	})

	metrics.SettlementsTotal.Inc()
	if prev.Status == model.StatusLive {
		metrics.LiveMarkets.Dec()
	}
	slog.Info("market resolved",
		"market", marketID, "outcome", outcomeID, "actor", actorID, "winners", len(payouts))
	return payouts, nil
}

// UpdateLimits adjusts the per-user caps on a non-resolved market. The
// liquidity parameter b is fixed at creation and cannot change.
func (e *Engine) UpdateLimits(ctx context.Context, marketID, actorID string, maxPosition, maxDailySpend *decimal.Decimal) (*model.Market, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}

	old := map[string]any{
		"max_position":    m.MaxPosition.String(),
		"max_daily_spend": m.MaxDailySpend.String(),
	}
	if maxPosition != nil {
		if !maxPosition.IsPositive() {
			return nil, fmt.Errorf("%w: max_position must be positive", ErrInvalidOutcomes)
		}
		m.MaxPosition = *maxPosition
	}
	if maxDailySpend != nil {
		if !maxDailySpend.IsPositive() {
			return nil, fmt.Errorf("%w: max_daily_spend must be positive", ErrInvalidOutcomes)
		}
		m.MaxDailySpend = *maxDailySpend
	}

	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.audit(ctx, m.ID, "settings_changed", actorID, old, map[string]any{
		"max_position":    m.MaxPosition.String(),
		"max_daily_spend": m.MaxDailySpend.String(),
	})
	return m, nil
}

// audit appends an immutable audit record; failures are logged, never
// propagated — audit is best-effort and must not fail the operation.
func (e *Engine) audit(ctx context.Context, marketID, action, actorID string, oldData, newData map[string]any) {
	entry := &model.AuditEntry{
		ID:         uuid.New().String(),
		EntityType: "market",
		EntityID:   marketID,
		Action:     action,
		ActorID:    actorID,
		CreatedAt:  e.now(),
	}
	if oldData != nil {
		if b, err := json.Marshal(oldData); err == nil {
			entry.OldData = string(b)
		}
	}
	if newData != nil {
		if b, err := json.Marshal(newData); err == nil {
			entry.NewData = string(b)
		}
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		slog.Warn("audit append failed", "market", marketID, "action", action, "err", err)
	}
}
