package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/limits"
	"github.com/celestia/token-engine/internal/metrics"
	"github.com/celestia/token-engine/internal/model"
	"github.com/celestia/token-engine/internal/store"
)

// MarketDefaults are the creation parameters applied when a market-creation
// request leaves fields unset.
type MarketDefaults struct {
	InitialPrice      decimal.Decimal
	InitialSupply     decimal.Decimal
	LiquidityFraction decimal.Decimal
}

// Service exposes the trade executor and market queries over HTTP.
// Identity arrives as an explicit user_id field placed by the auth layer;
// the service never reads ambient request state.
type Service struct {
	store    store.Store
	executor *Executor
	defaults MarketDefaults
	wsHub    *WSHub // optional hub for real-time broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, executor *Executor, defaults MarketDefaults, hub *WSHub) *Service {
	return &Service{
		store:    st,
		executor: executor,
		defaults: defaults,
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// BuyRequest is the JSON body for POST /trade/buy.
type BuyRequest struct {
	UserID          string          `json:"user_id"`
	InstitutionCode string          `json:"institution_code"`
	CurrencyAmount  decimal.Decimal `json:"currency_amount"`
}

// SellRequest is the JSON body for POST /trade/sell.
type SellRequest struct {
	UserID          string          `json:"user_id"`
	InstitutionCode string          `json:"institution_code"`
	TokenQty        decimal.Decimal `json:"token_qty"`
}

// SwapRequest is the JSON body for POST /trade/swap.
type SwapRequest struct {
	UserID     string          `json:"user_id"`
	SourceCode string          `json:"source_code"`
	TargetCode string          `json:"target_code"`
	SourceQty  decimal.Decimal `json:"source_qty"`
}

// SettleRequest is the JSON body for POST /settle, called by the
// games/challenges collaborator with a pre-computed stake delta.
type SettleRequest struct {
	UserID          string          `json:"user_id"`
	InstitutionCode string          `json:"institution_code"`
	Delta           decimal.Decimal `json:"delta"` // negative = stake, positive = payout
	Kind            string          `json:"kind"`  // stake | unstake | game
	Note            string          `json:"note,omitempty"`
}

// CreateMarketRequest is the JSON body for POST /markets. Zero-valued
// numeric fields fall back to the configured defaults.
type CreateMarketRequest struct {
	InstitutionCode   string          `json:"institution_code"`
	InitialPrice      decimal.Decimal `json:"initial_price"`
	InitialSupply     decimal.Decimal `json:"initial_supply"`
	LiquidityFraction decimal.Decimal `json:"liquidity_fraction"`
}

// --- HTTP Handlers ---

// BuyToken handles POST /api/v1/trade/buy.
func (s *Service) BuyToken(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.executor.Buy(r.Context(), req.UserID, req.InstitutionCode, req.CurrencyAmount)
	if err != nil {
		s.rejectTrade(w, "buy", err)
		return
	}
	s.recordTrade("buy", start)

	slog.Info("buy executed",
		"user", req.UserID,
		"institution", req.InstitutionCode,
		"amount", req.CurrencyAmount.String(),
		"qty", result.TokenQty.String(),
		"fee", result.Fee.String(),
		"new_price", result.NewPrice.String(),
	)
	s.broadcastTrade("buy", req.InstitutionCode, result.NewPrice, result.TokenQty)
	writeJSON(w, http.StatusOK, result)
}

// SellToken handles POST /api/v1/trade/sell.
func (s *Service) SellToken(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.executor.Sell(r.Context(), req.UserID, req.InstitutionCode, req.TokenQty)
	if err != nil {
		s.rejectTrade(w, "sell", err)
		return
	}
	s.recordTrade("sell", start)

	slog.Info("sell executed",
		"user", req.UserID,
		"institution", req.InstitutionCode,
		"qty", req.TokenQty.String(),
		"proceeds", result.Proceeds.String(),
		"fee", result.Fee.String(),
		"new_price", result.NewPrice.String(),
	)
	s.broadcastTrade("sell", req.InstitutionCode, result.NewPrice, req.TokenQty)
	writeJSON(w, http.StatusOK, result)
}

// SwapToken handles POST /api/v1/trade/swap.
func (s *Service) SwapToken(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.executor.Swap(r.Context(), req.UserID, req.SourceCode, req.TargetCode, req.SourceQty)
	if err != nil {
		s.rejectTrade(w, "swap", err)
		return
	}
	s.recordTrade("swap", start)

	slog.Info("swap executed",
		"user", req.UserID,
		"source", req.SourceCode,
		"target", req.TargetCode,
		"source_qty", req.SourceQty.String(),
		"target_qty", result.TargetQty.String(),
		"fee", result.Fee.String(),
	)
	s.broadcastTrade("swap", req.SourceCode, result.SourcePrice, req.SourceQty)
	s.broadcastTrade("swap", req.TargetCode, result.TargetPrice, result.TargetQty)
	writeJSON(w, http.StatusOK, result)
}

// Settle handles POST /api/v1/settle.
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.executor.Settle(r.Context(), req.UserID, req.InstitutionCode,
		req.Delta, model.TransactionType(req.Kind), req.Note)
	if err != nil {
		s.rejectTrade(w, "settle", err)
		return
	}

	slog.Info("settlement applied",
		"user", req.UserID,
		"institution", req.InstitutionCode,
		"kind", req.Kind,
		"delta", req.Delta.String(),
	)
	writeJSON(w, http.StatusOK, result)
}

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := model.ValidateInstitutionCode(req.InstitutionCode); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	price := req.InitialPrice
	if price.LessThanOrEqual(decimal.Zero) {
		price = s.defaults.InitialPrice
	}
	supply := req.InitialSupply
	if supply.LessThanOrEqual(decimal.Zero) {
		supply = s.defaults.InitialSupply
	}
	fraction := req.LiquidityFraction
	if fraction.LessThanOrEqual(decimal.Zero) {
		fraction = s.defaults.LiquidityFraction
	}

	market := NewMarket(req.InstitutionCode, price, supply, fraction)
	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		if errors.Is(err, store.ErrMarketExists) {
			writeError(w, "market already exists", http.StatusConflict)
			return
		}
		writeError(w, "failed to create market", http.StatusInternalServerError)
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"institution", market.InstitutionCode,
		"price", market.Price.String(),
		"supply", market.TotalSupply.String(),
		"liquidity", market.LiquidityPool.String(),
	)
	writeJSON(w, http.StatusCreated, market.Snapshot())
}

// GetMarket handles GET /api/v1/markets/{code}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	market, err := s.store.GetMarket(r.Context(), code)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market.Snapshot())
}

// ListMarkets handles GET /api/v1/markets. Markets are returned ordered by
// institution code.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	snapshots := make([]model.MarketSnapshot, 0, len(markets))
	for i := range markets {
		snapshots = append(snapshots, markets[i].Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// GetMarketHistory handles GET /api/v1/markets/{code}/history. Returns the
// market's transactions over the trailing 24h for price chart rebuilds.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	txs, err := s.store.ListTransactionsByMarket(r.Context(), code, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetHoldings handles GET /api/v1/holdings/{userID}.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	holdings, err := s.store.ListHoldings(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetTransactions handles GET /api/v1/transactions/{userID}.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txs, err := s.store.ListTransactionsByUser(r.Context(), userID, 50)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// NewMarket builds a market row from creation parameters: circulating
// supply starts at zero (tokens sit in the reserve) and the liquidity pool
// is a fraction of the fully-diluted value.
func NewMarket(code string, price, supply, liquidityFraction decimal.Decimal) *model.Market {
	now := time.Now().UTC()
	return &model.Market{
		ID:                uuid.New().String(),
		InstitutionCode:   code,
		Price:             price,
		TotalSupply:       supply,
		CirculatingSupply: decimal.Zero,
		LiquidityPool:     price.Mul(supply).Mul(liquidityFraction).Round(CurrencyScale),
		Volume24h:         decimal.Zero,
		Change24h:         decimal.Zero,
		MarketCap:         decimal.Zero,
		LastUpdated:       now,
		CreatedAt:         now,
	}
}

// --- helpers ---

func (s *Service) recordTrade(kind string, start time.Time) {
	metrics.TradesTotal.WithLabelValues(kind).Inc()
	metrics.TradeLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (s *Service) rejectTrade(w http.ResponseWriter, kind string, err error) {
	status := httpStatus(err)
	if status != http.StatusInternalServerError {
		metrics.TradeRejections.WithLabelValues(kind).Inc()
	} else {
		slog.Error("trade failed", "kind", kind, "err", err)
	}
	writeError(w, err.Error(), status)
}

func (s *Service) broadcastTrade(kind, code string, price, qty decimal.Decimal) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:            "trade_executed",
		InstitutionCode: code,
		Price:           price.String(),
		TradeType:       kind,
		Quantity:        qty.String(),
	})
}

// httpStatus maps executor errors to HTTP status codes: malformed input is
// 400, missing rows 404, business-rule rejections and contention 409.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidSettlementKind),
		errors.Is(err, limits.ErrBelowMinTrade),
		errors.Is(err, limits.ErrAboveMaxTrade):
		return http.StatusBadRequest
	case errors.Is(err, ErrMarketNotFound),
		errors.Is(err, ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientHoldings),
		errors.Is(err, ErrInsufficientReserve),
		errors.Is(err, ErrInvalidSwap),
		errors.Is(err, ErrNegativeBalance),
		errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, limits.ErrDailyVolumeExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

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
