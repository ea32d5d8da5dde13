package sim

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestia/token-engine/internal/model"
	"github.com/celestia/token-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// quietConfig disables every stochastic adjustment so individual mechanisms
// can be tested in isolation.
func quietConfig() Config {
	return Config{
		MaxTickImpact:    1e-12,
		DailyDecayRate:   0.001,
		BreakerThreshold: 100, // effectively off
		BreakerRetention: 0.5,
		NewsProbability:  0,
		Concurrency:      2,
	}
}

func seedMarket(t *testing.T, ms *store.MemoryStore, code string, price float64, lastUpdated time.Time) {
	t.Helper()
	err := ms.CreateMarket(context.Background(), &model.Market{
		ID:                "mkt-" + code,
		InstitutionCode:   code,
		Price:             d(price),
		TotalSupply:       d(1000000),
		CirculatingSupply: d(1000),
		LiquidityPool:     d(100000),
		LastUpdated:       lastUpdated,
		CreatedAt:         lastUpdated,
	})
	require.NoError(t, err)
}

func priceOf(t *testing.T, ms *store.MemoryStore, code string) float64 {
	t.Helper()
	m, err := ms.GetMarket(context.Background(), code)
	require.NoError(t, err)
	f, _ := m.Price.Float64()
	return f
}

func TestTick_RandomWalkBounded(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now)

	cfg := quietConfig()
	cfg.MaxTickImpact = 0.05
	e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(42)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	p := priceOf(t, ms, "UNILAG")
	assert.GreaterOrEqual(t, p, 0.95, "tick moved price below -5%%")
	assert.LessOrEqual(t, p, 1.05, "tick moved price above +5%%")
}

func TestTick_DeterministicGivenSeed(t *testing.T) {
	now := time.Now().UTC()
	run := func() float64 {
		ms := store.NewMemoryStore()
		seedMarket(t, ms, "UNILAG", 1.0, now)
		cfg := quietConfig()
		cfg.MaxTickImpact = 0.05
		cfg.NewsProbability = 0.5
		e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(7)))
		e.now = func() time.Time { return now }
		require.NoError(t, e.Tick(context.Background()))
		return priceOf(t, ms, "UNILAG")
	}

	first := run()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, run(), "same seed must reproduce the same tick")
	}
}

func TestTick_DecayAfterInactivity(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now.Add(-48*time.Hour))

	cfg := quietConfig()
	cfg.DailyDecayRate = 0.5
	e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(1)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	// Two whole days elapsed: (1 - 0.5)^2 = 0.25.
	assert.InDelta(t, 0.25, priceOf(t, ms, "UNILAG"), 1e-6)
}

func TestTick_NoDecayUnderOneDay(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now.Add(-12*time.Hour))

	cfg := quietConfig()
	cfg.DailyDecayRate = 0.5
	e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(1)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	assert.InDelta(t, 1.0, priceOf(t, ms, "UNILAG"), 1e-6)
}

func TestTick_NewsEventApplied(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now)

	cfg := quietConfig()
	cfg.NewsProbability = 1.0
	cfg.Events = []Event{{Name: "research breakthrough", Impact: 0.10, Weight: 1}}
	e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(3)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	// Impact 0.10 with ±20% per-market variation: [1.08, 1.12].
	p := priceOf(t, ms, "UNILAG")
	assert.GreaterOrEqual(t, p, 1.0799)
	assert.LessOrEqual(t, p, 1.1201)

	m, err := ms.GetMarket(context.Background(), "UNILAG")
	require.NoError(t, err)
	assert.Equal(t, "research breakthrough", m.LastEvent)
}

func TestTick_PriceNeverBelowFloor(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	floor, _ := MinPrice.Float64()
	seedMarket(t, ms, "UNILAG", floor, now.Add(-10*24*time.Hour))

	cfg := quietConfig()
	cfg.DailyDecayRate = 0.9
	e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(5)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	m, err := ms.GetMarket(context.Background(), "UNILAG")
	require.NoError(t, err)
	assert.True(t, m.Price.GreaterThanOrEqual(MinPrice), "price %s below floor", m.Price)
}

func TestTick_MarketCapUpdated(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now)

	e := NewEngine(ms, quietConfig(), nil, rand.New(rand.NewSource(9)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	m, err := ms.GetMarket(context.Background(), "UNILAG")
	require.NoError(t, err)
	want := m.Price.Mul(m.CirculatingSupply).Round(2)
	assert.True(t, m.MarketCap.Equal(want), "market cap %s, want %s", m.MarketCap, want)
}

// A phantom market in the listing must not poison the rest of the pass.
type phantomListStore struct {
	*store.MemoryStore
}

func (s *phantomListStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	markets, err := s.MemoryStore.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return append(markets, model.Market{InstitutionCode: "GHOST", Price: d(1)}), nil
}

func TestTick_FailureIsolatedPerMarket(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now.Add(-48*time.Hour))

	cfg := quietConfig()
	cfg.DailyDecayRate = 0.5
	e := NewEngine(&phantomListStore{ms}, cfg, nil, rand.New(rand.NewSource(11)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.Tick(context.Background()))

	// The real market still decayed despite GHOST failing.
	assert.InDelta(t, 0.25, priceOf(t, ms, "UNILAG"), 1e-6)
}

// --- Circuit breaker ---

func TestApplyBreaker_WithinThreshold(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), Config{BreakerThreshold: 0.20, BreakerRetention: 0.5}, nil, nil)
	m := &model.Market{Price: d(1.0), Change24h: decimal.Zero}

	price, change := e.applyBreaker(m, d(1.1))

	pf, _ := price.Float64()
	cf, _ := change.Float64()
	assert.InDelta(t, 1.1, pf, 1e-9)
	assert.InDelta(t, 0.1, cf, 1e-9)
}

func TestApplyBreaker_ClawsBackExcess(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), Config{BreakerThreshold: 0.20, BreakerRetention: 0.5}, nil, nil)
	m := &model.Market{Price: d(1.0), Change24h: decimal.Zero}

	// Implied +50%: excess 0.30, retained half → allowed +35%.
	price, change := e.applyBreaker(m, d(1.5))

	pf, _ := price.Float64()
	cf, _ := change.Float64()
	assert.InDelta(t, 1.35, pf, 1e-9)
	assert.InDelta(t, 0.35, cf, 1e-9)
}

func TestApplyBreaker_DownwardMove(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), Config{BreakerThreshold: 0.20, BreakerRetention: 0.5}, nil, nil)
	m := &model.Market{Price: d(1.0), Change24h: decimal.Zero}

	// Implied -50%: allowed -(0.20 + 0.15) = -35%.
	price, change := e.applyBreaker(m, d(0.5))

	pf, _ := price.Float64()
	cf, _ := change.Float64()
	assert.InDelta(t, 0.65, pf, 1e-9)
	assert.InDelta(t, -0.35, cf, 1e-9)
}

func TestApplyBreaker_UsesImpliedReference(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), Config{BreakerThreshold: 0.20, BreakerRetention: 0.5}, nil, nil)
	// Price already up 10% on the day: reference is 1.0, not 1.1.
	m := &model.Market{Price: d(1.1), Change24h: d(0.1)}

	// Candidate 1.5 implies +50% vs the reference → clawed to +35%.
	price, change := e.applyBreaker(m, d(1.5))

	pf, _ := price.Float64()
	cf, _ := change.Float64()
	assert.InDelta(t, 1.35, pf, 1e-6)
	assert.InDelta(t, 0.35, cf, 1e-6)
}

// --- Reputation ---

func TestApplyReputation(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	seedMarket(t, ms, "UNILAG", 1.0, now)
	seedMarket(t, ms, "OAU", 1.0, now)

	cfg := quietConfig()
	cfg.ReputationFactors = map[string]float64{"UNILAG": 1.05}
	e := NewEngine(ms, cfg, nil, rand.New(rand.NewSource(13)))
	e.now = func() time.Time { return now }

	require.NoError(t, e.ApplyReputation(context.Background()))

	assert.InDelta(t, 1.05, priceOf(t, ms, "UNILAG"), 1e-9)
	assert.InDelta(t, 1.0, priceOf(t, ms, "OAU"), 1e-9, "unlisted institution must stay neutral")
}

// --- Helpers ---

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.03, clamp(0.03, 0.05))
	assert.Equal(t, 0.05, clamp(0.2, 0.05))
	assert.Equal(t, -0.05, clamp(-0.2, 0.05))
}

func TestBoxMuller_FiniteAndCentered(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	sum := 0.0
	const n = 10000
	for i := 0; i < n; i++ {
		z := boxMuller(rng)
		require.False(t, math.IsNaN(z) || math.IsInf(z, 0))
		sum += z
	}
	assert.InDelta(t, 0, sum/n, 0.05, "sample mean should be near zero")
}
