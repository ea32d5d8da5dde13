package trade_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/celestia/token-engine/internal/limits"
	"github.com/celestia/token-engine/internal/model"
	"github.com/celestia/token-engine/internal/pricing"
	"github.com/celestia/token-engine/internal/store"
	"github.com/celestia/token-engine/internal/trade"
)

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *trade.Executor, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	calc, err := pricing.NewCalculator(d(0.05), d(0.05), d(1000))
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	limiter := limits.NewTradeLimiter(d(1), d(100000), d(500000))
	ex := trade.NewExecutor(ms, calc, limiter, defaultFees())

	defaults := trade.MarketDefaults{
		InitialPrice:      d(1.0),
		InitialSupply:     d(1000000),
		LiquidityFraction: d(0.1),
	}
	svc := trade.NewService(ms, ex, defaults, nil)

	r := chi.NewRouter()
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets/{code}", svc.GetMarket)
	r.Get("/api/v1/markets/{code}/history", svc.GetMarketHistory)
	r.Post("/api/v1/trade/buy", svc.BuyToken)
	r.Post("/api/v1/trade/sell", svc.SellToken)
	r.Post("/api/v1/trade/swap", svc.SwapToken)
	r.Post("/api/v1/settle", svc.Settle)
	r.Get("/api/v1/holdings/{userID}", svc.GetHoldings)
	r.Get("/api/v1/transactions/{userID}", svc.GetTransactions)

	return ms, ex, r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateMarket_AppliesDefaults(t *testing.T) {
	_, _, r := newTestEnv(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap model.MarketSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !snap.Price.Equal(d(1.0)) {
		t.Errorf("expected default price 1.0, got %s", snap.Price)
	}
	if !snap.TotalSupply.Equal(d(1000000)) {
		t.Errorf("expected default supply 1000000, got %s", snap.TotalSupply)
	}
	// liquidity = 1.0 * 1000000 * 0.1 = 100000.
	if !snap.LiquidityPool.Equal(d(100000)) {
		t.Errorf("expected liquidity 100000, got %s", snap.LiquidityPool)
	}
	if !snap.CirculatingSupply.IsZero() {
		t.Errorf("expected zero circulating supply, got %s", snap.CirculatingSupply)
	}
}

func TestCreateMarket_InvalidCode(t *testing.T) {
	_, _, r := newTestEnv(t)

	for _, code := range []string{"", "x", "lowercase", "A B C", "TOOLONGCODE123456789"} {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/markets",
			trade.CreateMarketRequest{InstitutionCode: code})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code %q: expected 400, got %d", code, rec.Code)
		}
	}
}

func TestCreateMarket_Duplicate(t *testing.T) {
	_, _, r := newTestEnv(t)

	first := doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "OAU"})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "OAU"})
	if second.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", second.Code)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	_, _, r := newTestEnv(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/markets/MISSING", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListMarkets(t *testing.T) {
	_, _, r := newTestEnv(t)
	for _, code := range []string{"UNILAG", "ABU", "OAU"} {
		doJSON(t, r, http.MethodPost, "/api/v1/markets",
			trade.CreateMarketRequest{InstitutionCode: code})
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/markets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snaps []model.MarketSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(snaps))
	}
	if snaps[0].InstitutionCode != "ABU" {
		t.Errorf("expected ordering by code, got %s first", snaps[0].InstitutionCode)
	}
}

func TestBuyEndpoint_HappyPath(t *testing.T) {
	ms, _, r := newTestEnv(t)
	seedWallet(t, ms, "user-1", 10000)
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trade/buy", trade.BuyRequest{
		UserID:          "user-1",
		InstitutionCode: "UNILAG",
		CurrencyAmount:  d(1000),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res trade.BuyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.TokenQty.Equal(d(995)) {
		t.Errorf("expected 995 tokens, got %s", res.TokenQty)
	}
	if !res.NewPrice.Equal(d(1.0005)) {
		t.Errorf("expected price 1.0005, got %s", res.NewPrice)
	}
}

func TestBuyEndpoint_MissingUserID(t *testing.T) {
	_, _, r := newTestEnv(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trade/buy", trade.BuyRequest{
		InstitutionCode: "UNILAG",
		CurrencyAmount:  d(100),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBuyEndpoint_MalformedBody(t *testing.T) {
	_, _, r := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/buy",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBuyEndpoint_InsufficientFundsIs409(t *testing.T) {
	ms, _, r := newTestEnv(t)
	seedWallet(t, ms, "user-1", 10)
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trade/buy", trade.BuyRequest{
		UserID:          "user-1",
		InstitutionCode: "UNILAG",
		CurrencyAmount:  d(100),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBuyEndpoint_UnknownMarketIs404(t *testing.T) {
	ms, _, r := newTestEnv(t)
	seedWallet(t, ms, "user-1", 1000)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trade/buy", trade.BuyRequest{
		UserID:          "user-1",
		InstitutionCode: "MISSING",
		CurrencyAmount:  d(100),
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSwapEndpoint_HappyPath(t *testing.T) {
	ms, ex, r := newTestEnv(t)
	seedWallet(t, ms, "user-1", 0)
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "OAU"})
	creditHolding(t, ex, "user-1", "UNILAG", 100)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trade/swap", trade.SwapRequest{
		UserID:     "user-1",
		SourceCode: "UNILAG",
		TargetCode: "OAU",
		SourceQty:  d(50),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res trade.SwapResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.TargetQty.Equal(d(49.75)) {
		t.Errorf("expected 49.75 target tokens, got %s", res.TargetQty)
	}
}

func TestSettleEndpoint_InvalidKindIs400(t *testing.T) {
	_, _, r := newTestEnv(t)
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/settle", trade.SettleRequest{
		UserID:          "user-1",
		InstitutionCode: "UNILAG",
		Delta:           d(10),
		Kind:            "buy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHoldingsEndpoint_EmptyIsArray(t *testing.T) {
	_, _, r := newTestEnv(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/holdings/nobody", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got[0] != '[' {
		t.Errorf("expected JSON array, got %s", got)
	}
}

func TestTransactionsEndpoint_ReturnsLedger(t *testing.T) {
	ms, _, r := newTestEnv(t)
	seedWallet(t, ms, "user-1", 10000)
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})
	doJSON(t, r, http.MethodPost, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user-1", InstitutionCode: "UNILAG", CurrencyAmount: d(500),
	})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/transactions/user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var txs []model.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	if txs[0].Type != model.TxBuy {
		t.Errorf("expected buy record, got %s", txs[0].Type)
	}
}

func TestMarketHistoryEndpoint(t *testing.T) {
	ms, _, r := newTestEnv(t)
	seedWallet(t, ms, "user-1", 10000)
	doJSON(t, r, http.MethodPost, "/api/v1/markets",
		trade.CreateMarketRequest{InstitutionCode: "UNILAG"})
	doJSON(t, r, http.MethodPost, "/api/v1/trade/buy", trade.BuyRequest{
		UserID: "user-1", InstitutionCode: "UNILAG", CurrencyAmount: d(500),
	})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/markets/UNILAG/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var txs []model.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected 1 history row, got %d", len(txs))
	}
}
