package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// price snapshot maps are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// parseNumeric converts a NUMERIC column scanned as ::TEXT back to a
// decimal. A parse failure means a corrupt row and must surface, not
// silently become zero.
func parseNumeric(s, col string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", col, s, err)
	}
	return v, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create market %s: begin: %w", m.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, class_id, creator_id, title, description, market_type,
		                      status, b_param, max_position, max_daily_spend,
		                      resolution_source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		m.ID, m.ClassID, m.CreatorID, m.Title, m.Description, m.Type,
		m.Status, m.B.String(), m.MaxPosition.String(), m.MaxDailySpend.String(),
		m.ResolutionSource, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create market %s: %w", m.ID, err)
	}

	for _, o := range m.Outcomes {
		_, err = tx.Exec(ctx,
			`INSERT INTO outcomes (id, market_id, label, display_order, quantity)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
			o.ID, m.ID, o.Label, o.DisplayOrder, o.Quantity.String(),
		)
		if err != nil {
			return fmt.Errorf("create outcome %s: %w", o.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	var b, maxPos, maxSpend string
	var resolvedOutcome *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, class_id, creator_id, title, COALESCE(description, ''), market_type,
		        status, b_param::TEXT, max_position::TEXT, max_daily_spend::TEXT,
		        resolution_source, resolved_outcome_id,
		        created_at, approved_at, live_at, resolved_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.ClassID, &m.CreatorID, &m.Title, &m.Description, &m.Type,
			&m.Status, &b, &maxPos, &maxSpend,
			&m.ResolutionSource, &resolvedOutcome,
			&m.CreatedAt, &m.ApprovedAt, &m.LiveAt, &m.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
		}
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}

	if m.B, err = parseNumeric(b, "b_param"); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	if m.MaxPosition, err = parseNumeric(maxPos, "max_position"); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	if m.MaxDailySpend, err = parseNumeric(maxSpend, "max_daily_spend"); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	if resolvedOutcome != nil {
		m.ResolvedOutcomeID = *resolvedOutcome
	}

	outcomes, err := s.marketOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Outcomes = outcomes

	return &m, nil
}

func (s *PostgresStore) marketOutcomes(ctx context.Context, marketID string) ([]model.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, label, display_order, quantity::TEXT
		 FROM outcomes WHERE market_id = $1 ORDER BY display_order`, marketID)
	if err != nil {
		return nil, fmt.Errorf("outcomes for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		var qty string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Label, &o.DisplayOrder, &qty); err != nil {
			return nil, err
		}
		if o.Quantity, err = parseNumeric(qty, "quantity"); err != nil {
			return nil, fmt.Errorf("outcome %s: %w", o.ID, err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (s *PostgresStore) ListMarkets(ctx context.Context, f ListFilter) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM markets
		 WHERE ($1 = '' OR class_id = $1)
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR market_type = $3)
		 ORDER BY created_at DESC`,
		f.ClassID, string(f.Status), string(f.Type))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	markets := make([]model.Market, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	var resolved *string
	if m.ResolvedOutcomeID != "" {
		resolved = &m.ResolvedOutcomeID
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, resolved_outcome_id = $3,
		     max_position = $4::NUMERIC, max_daily_spend = $5::NUMERIC,
		     approved_at = $6, live_at = $7, resolved_at = $8
		 WHERE id = $1`,
		m.ID, m.Status, resolved,
		m.MaxPosition.String(), m.MaxDailySpend.String(),
		m.ApprovedAt, m.LiveAt, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, m.ID)
	}
	return nil
}

func (s *PostgresStore) ApplyFill(ctx context.Context, marketID string, afterQ []decimal.Decimal, trade *model.Trade, point *model.PricePoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("apply fill %s: begin: %w", trade.ID, err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id FROM outcomes WHERE market_id = $1 ORDER BY display_order`, marketID)
	if err != nil {
		return fmt.Errorf("apply fill %s: outcomes: %w", trade.ID, err)
	}
	var outcomeIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		outcomeIDs = append(outcomeIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(outcomeIDs) != len(afterQ) {
		return fmt.Errorf("apply fill %s: quantity vector length %d != %d outcomes",
			trade.ID, len(afterQ), len(outcomeIDs))
	}

	for i, outcomeID := range outcomeIDs {
		_, err = tx.Exec(ctx,
			`UPDATE outcomes SET quantity = $2::NUMERIC WHERE id = $1`,
			outcomeID, afterQ[i].String())
		if err != nil {
			return fmt.Errorf("apply fill %s: update outcome %s: %w", trade.ID, outcomeID, err)
		}
	}

	beforeJSON, err := json.Marshal(trade.BeforePrices)
	if err != nil {
		return fmt.Errorf("apply fill %s: %w", trade.ID, err)
	}
	afterJSON, err := json.Marshal(trade.AfterPrices)
	if err != nil {
		return fmt.Errorf("apply fill %s: %w", trade.ID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, outcome_id, user_id, shares, cost, fill_price,
		                     before_prices, after_prices, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::JSONB, $9::JSONB, $10)`,
		trade.ID, trade.MarketID, trade.OutcomeID, trade.UserID,
		trade.Shares.String(), trade.Cost.String(), trade.FillPrice.String(),
		beforeJSON, afterJSON, trade.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("apply fill %s: insert trade: %w", trade.ID, err)
	}

	pricesJSON, err := json.Marshal(point.Prices)
	if err != nil {
		return fmt.Errorf("apply fill %s: %w", trade.ID, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO price_points (market_id, prices, ts) VALUES ($1, $2::JSONB, $3)`,
		point.MarketID, pricesJSON, point.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("apply fill %s: insert price point: %w", trade.ID, err)
	}

	return tx.Commit(ctx)
}

const tradeColumns = `id, market_id, outcome_id, user_id,
	shares::TEXT, cost::TEXT, fill_price::TEXT,
	before_prices, after_prices, created_at`

func (s *PostgresStore) TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) UserOutcomeShares(ctx context.Context, userID, marketID, outcomeID string) (decimal.Decimal, error) {
	var sharesStr string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(shares), 0)::TEXT FROM trades
		 WHERE user_id = $1 AND market_id = $2 AND outcome_id = $3`,
		userID, marketID, outcomeID).Scan(&sharesStr)
	if err != nil {
		return decimal.Zero, err
	}
	return parseNumeric(sharesStr, "shares sum")
}

func (s *PostgresStore) UserMarketSpendSince(ctx context.Context, userID, marketID string, since time.Time) (decimal.Decimal, error) {
	var spendStr string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0)::TEXT FROM trades
		 WHERE user_id = $1 AND market_id = $2 AND cost > 0 AND created_at >= $3`,
		userID, marketID, since).Scan(&spendStr)
	if err != nil {
		return decimal.Zero, err
	}
	return parseNumeric(spendStr, "spend sum")
}

func (s *PostgresStore) OutcomeHolders(ctx context.Context, marketID, outcomeID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, SUM(shares)::TEXT AS net
		 FROM trades WHERE market_id = $1 AND outcome_id = $2
		 GROUP BY user_id HAVING SUM(shares) > 0`, marketID, outcomeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holders := make(map[string]decimal.Decimal)
	for rows.Next() {
		var userID, netStr string
		if err := rows.Scan(&userID, &netStr); err != nil {
			return nil, err
		}
		net, err := parseNumeric(netStr, "net shares")
		if err != nil {
			return nil, fmt.Errorf("holder %s: %w", userID, err)
		}
		holders[userID] = net
	}
	return holders, rows.Err()
}

func (s *PostgresStore) PriceHistory(ctx context.Context, marketID string) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, prices, ts FROM price_points
		 WHERE market_id = $1 ORDER BY ts`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var pricesJSON []byte
		if err := rows.Scan(&p.MarketID, &pricesJSON, &p.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pricesJSON, &p.Prices); err != nil {
			return nil, fmt.Errorf("price point for %s: %w", marketID, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, old_data, new_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EntityType, e.EntityID, e.Action, e.ActorID, e.OldData, e.NewData, e.CreatedAt,
	)
	return err
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var sharesS, costS, fillS string
		var beforeJSON, afterJSON []byte

		if err := rows.Scan(&t.ID, &t.MarketID, &t.OutcomeID, &t.UserID,
			&sharesS, &costS, &fillS,
			&beforeJSON, &afterJSON, &t.CreatedAt); err != nil {
			return nil, err
		}

		var err error
		if t.Shares, err = parseNumeric(sharesS, "shares"); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if t.Cost, err = parseNumeric(costS, "cost"); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if t.FillPrice, err = parseNumeric(fillS, "fill_price"); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if err := json.Unmarshal(beforeJSON, &t.BeforePrices); err != nil {
			return nil, fmt.Errorf("trade %s before_prices: %w", t.ID, err)
		}
		if err := json.Unmarshal(afterJSON, &t.AfterPrices); err != nil {
			return nil, fmt.Errorf("trade %s after_prices: %w", t.ID, err)
		}

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
