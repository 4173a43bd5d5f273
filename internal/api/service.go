// Package api provides the HTTP handlers exposing the forecast engine:
// market management, trade quoting/execution, lifecycle transitions, and
// portfolio queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/classcoin/forecast-engine/internal/engine"
	"github.com/classcoin/forecast-engine/internal/lmsr"
	"github.com/classcoin/forecast-engine/internal/metrics"
	"github.com/classcoin/forecast-engine/internal/model"
	"github.com/classcoin/forecast-engine/internal/risk"
	"github.com/classcoin/forecast-engine/internal/store"
	"github.com/classcoin/forecast-engine/internal/wallet"
)

// Service wires the engine into chi handlers.
type Service struct {
	engine *engine.Engine
	store  store.Store
	hub    *WSHub // optional; nil disables broadcasting
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(e *engine.Engine, st store.Store, hub *WSHub) *Service {
	return &Service{engine: e, store: st, hub: hub}
}

// Routes mounts all handlers on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/prices", s.GetPrices)
	r.Get("/markets/{marketID}/history", s.GetHistory)
	r.Post("/markets/{marketID}/approve", s.Approve)
	r.Post("/markets/{marketID}/pause", s.Pause)
	r.Post("/markets/{marketID}/resume", s.Resume)
	r.Post("/markets/{marketID}/resolve", s.Resolve)
	r.Patch("/markets/{marketID}/settings", s.UpdateSettings)

	r.Post("/quote", s.GetQuote)
	r.Post("/trade", s.ExecuteTrade)

	r.Get("/portfolio/{userID}", s.GetPortfolio)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	ClassID          string               `json:"class_id"`
	CreatorID        string               `json:"creator_id"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	Type             model.MarketType     `json:"market_type"`
	Status           model.Status         `json:"status"` // draft (default), pending, or live
	B                decimal.Decimal      `json:"b_param"`
	MaxPosition      decimal.Decimal      `json:"max_position"`
	MaxDailySpend    decimal.Decimal      `json:"max_daily_spend"`
	ResolutionSource string               `json:"resolution_source"`
	Outcomes         []engine.OutcomeSpec `json:"outcomes"`
}

// TradeRequest is the JSON body for POST /quote and POST /trade.
type TradeRequest struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	OutcomeID string          `json:"outcome_id"`
	Shares    decimal.Decimal `json:"shares"` // positive = buy, negative = sell
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	OutcomeID string `json:"outcome_id"`
	ActorID   string `json:"actor_id"`
}

// ResolveResponse reports the settlement result.
type ResolveResponse struct {
	MarketID          string         `json:"market_id"`
	ResolvedOutcomeID string         `json:"resolved_outcome_id"`
	Payouts           []model.Payout `json:"payouts"`
}

// SettingsRequest is the JSON body for PATCH /markets/{id}/settings.
type SettingsRequest struct {
	ActorID       string           `json:"actor_id"`
	MaxPosition   *decimal.Decimal `json:"max_position,omitempty"`
	MaxDailySpend *decimal.Decimal `json:"max_daily_spend,omitempty"`
}

// OutcomePrice is one row of the prices (sentiment) response.
type OutcomePrice struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Price      decimal.Decimal `json:"price"`
	Percentage decimal.Decimal `json:"percentage"`
}

// PricesResponse is the sentiment view of a market.
type PricesResponse struct {
	MarketID string         `json:"market_id"`
	Title    string         `json:"title"`
	Outcomes []OutcomePrice `json:"outcomes"`
}

// --- Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	m, err := s.engine.CreateMarket(r.Context(), engine.CreateParams{
		ClassID:          req.ClassID,
		CreatorID:        req.CreatorID,
		Title:            req.Title,
		Description:      req.Description,
		Type:             req.Type,
		Status:           req.Status,
		B:                req.B,
		MaxPosition:      req.MaxPosition,
		MaxDailySpend:    req.MaxDailySpend,
		ResolutionSource: req.ResolutionSource,
		Outcomes:         req.Outcomes,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMarkets handles GET /api/v1/markets
// Optional filters: ?class_id=, ?status=, ?type=.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{
		ClassID: r.URL.Query().Get("class_id"),
		Status:  model.Status(r.URL.Query().Get("status")),
		Type:    model.MarketType(r.URL.Query().Get("type")),
	}
	markets, err := s.store.ListMarkets(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetPrices handles GET /api/v1/markets/{marketID}/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	prices, err := s.engine.Prices(r.Context(), marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	hundred := decimal.NewFromInt(100)
	resp := PricesResponse{MarketID: m.ID, Title: m.Title}
	for _, o := range m.Outcomes {
		p := prices[o.ID]
		resp.Outcomes = append(resp.Outcomes, OutcomePrice{
			ID:         o.ID,
			Label:      o.Label,
			Price:      p,
			Percentage: p.Mul(hundred).Round(1),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/markets/{marketID}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.History(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// GetQuote handles POST /api/v1/quote
// Read-only preview; safe to call on every keystroke.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTradeRequest(w, r)
	if !ok {
		return
	}

	quote, err := s.engine.Quote(r.Context(), req.MarketID, req.OutcomeID, req.UserID, req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ExecuteTrade handles POST /api/v1/trade
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTradeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	trade, err := s.engine.Execute(r.Context(), req.MarketID, req.OutcomeID, req.UserID, req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.TradeLatency.Observe(time.Since(start).Seconds())

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "trade_executed",
			MarketID:  trade.MarketID,
			OutcomeID: trade.OutcomeID,
			Shares:    trade.Shares.String(),
			Prices:    stringPrices(trade.AfterPrices),
		})
	}

	writeJSON(w, http.StatusOK, trade)
}

// Approve handles POST /api/v1/markets/{marketID}/approve
func (s *Service) Approve(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.engine.Approve)
}

// Pause handles POST /api/v1/markets/{marketID}/pause
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.engine.Pause)
}

// Resume handles POST /api/v1/markets/{marketID}/resume
func (s *Service) Resume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.engine.Resume)
}

func (s *Service) lifecycle(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, marketID, actorID string) (*model.Market, error)) {
	marketID := chi.URLParam(r, "marketID")

	var body struct {
		ActorID string `json:"actor_id"`
	}
	// Body is optional for lifecycle calls.
	_ = json.NewDecoder(r.Body).Decode(&body)

	m, err := fn(r.Context(), marketID, body.ActorID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:     "market_status",
			MarketID: m.ID,
			Status:   string(m.Status),
		})
	}
	writeJSON(w, http.StatusOK, m)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve
// Sets the winning outcome and settles payouts; irreversible.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OutcomeID == "" {
		writeError(w, "outcome_id is required", http.StatusBadRequest)
		return
	}

	payouts, err := s.engine.Resolve(r.Context(), marketID, req.OutcomeID, req.ActorID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "market_resolved",
			MarketID:  marketID,
			OutcomeID: req.OutcomeID,
			Status:    string(model.StatusResolved),
		})
	}

	writeJSON(w, http.StatusOK, ResolveResponse{
		MarketID:          marketID,
		ResolvedOutcomeID: req.OutcomeID,
		Payouts:           payouts,
	})
}

// UpdateSettings handles PATCH /api/v1/markets/{marketID}/settings
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := s.engine.UpdateLimits(r.Context(), marketID, req.ActorID, req.MaxPosition, req.MaxDailySpend)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Helpers ---

func decodeTradeRequest(w http.ResponseWriter, r *http.Request) (TradeRequest, bool) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return req, false
	}
	if req.MarketID == "" || req.OutcomeID == "" {
		writeError(w, "market_id and outcome_id are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func stringPrices(prices map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(prices))
	for id, p := range prices {
		out[id] = p.String()
	}
	return out
}

// writeEngineError maps engine/store/wallet errors to HTTP status codes.
// Business rejections carry the limiting value through the error string so
// the UI can explain why; infrastructure faults become a retryable 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrUnknownOutcome),
		errors.Is(err, engine.ErrZeroShareTrade),
		errors.Is(err, engine.ErrInvalidOutcomes),
		errors.Is(err, lmsr.ErrInvalidLiquidity):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrMarketNotTradable),
		errors.Is(err, engine.ErrAlreadyResolved),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, risk.ErrPositionLimitExceeded),
		errors.Is(err, risk.ErrDailySpendLimitExceeded),
		errors.Is(err, wallet.ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, wallet.ErrUnknownUser):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "internal error, safe to retry", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
