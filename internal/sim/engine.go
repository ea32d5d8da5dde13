// Package sim implements the market simulation engine: a scheduled process
// that perturbs every market independently with volatility, sentiment and
// random-walk factors, applies inactivity decay and a 24h circuit breaker,
// and occasionally injects news events.
//
// The engine never writes blindly: each market's pass runs inside the same
// locked read-modify-write unit trades use, so a tick and a concurrent
// trade compose instead of overwriting each other. One market's failure is
// logged and skipped; it never aborts the rest of the pass.
//
// Randomness stays in float64 and is converted to decimal immediately — the
// same split the pricing package uses for deterministic money math.
package sim

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/metrics"
	"github.com/celestia/token-engine/internal/model"
	"github.com/celestia/token-engine/internal/store"
	"github.com/celestia/token-engine/internal/trade"
)

// MinPrice is the floor a market price can never cross. Prevents a long
// decay or news streak from producing a zero or negative price.
var MinPrice = decimal.RequireFromString("0.00000001")

// Config holds the simulation parameters.
type Config struct {
	// MaxTickImpact clamps one tick's random-walk move (fractional).
	MaxTickImpact float64

	// DailyDecayRate is the per-elapsed-day price decay for markets that
	// have seen no update.
	DailyDecayRate float64

	// BreakerThreshold is the implied 24h change beyond which the circuit
	// breaker engages (fractional, e.g. 0.20).
	BreakerThreshold float64

	// BreakerRetention is the share of the excess beyond the threshold
	// that survives the breaker (e.g. 0.50 keeps half).
	BreakerRetention float64

	// NewsProbability is the chance per tick that a news event fires.
	NewsProbability float64

	// Concurrency bounds how many markets are processed in parallel.
	Concurrency int

	// ReputationFactors maps institution codes to daily multiplicative
	// reputation adjustments. Missing codes get a neutral 1.0.
	ReputationFactors map[string]float64

	// Events overrides DefaultEvents when non-nil.
	Events []Event
}

// Engine drives the scheduled market simulation.
type Engine struct {
	store store.Store
	cfg   Config
	hub   *trade.WSHub // optional
	now   func() time.Time

	mu  sync.Mutex // guards rng; draws happen sequentially before the parallel pass
	rng *rand.Rand
}

// NewEngine creates a simulation engine. Pass nil for hub to disable
// broadcasts; seed the rng deterministically in tests.
func NewEngine(st store.Store, cfg Config, hub *trade.WSHub, rng *rand.Rand) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Events == nil {
		cfg.Events = DefaultEvents
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		store: st,
		cfg:   cfg,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
		rng:   rng,
	}
}

// tickDraw is the randomness drawn for one market's pass. Drawing happens
// sequentially up front so the parallel pass itself is deterministic given
// the draws.
type tickDraw struct {
	volatility    float64 // [0.5, 2.5]
	sentiment     float64 // [-1, 1]
	normal        float64 // standard normal (Box-Muller)
	newsVariation float64 // [-0.2, 0.2], only used when an event fired
}

// Tick runs one simulation pass over every market. Markets are processed
// in parallel with bounded concurrency; failures are isolated per market.
func (e *Engine) Tick(ctx context.Context) error {
	markets, err := e.store.ListMarkets(ctx)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return nil
	}

	// Draw all randomness before fanning out.
	e.mu.Lock()
	var event *Event
	if e.rng.Float64() < e.cfg.NewsProbability {
		ev := pickEvent(e.rng, e.cfg.Events)
		event = &ev
	}
	draws := make([]tickDraw, len(markets))
	for i := range draws {
		draws[i] = tickDraw{
			volatility:    0.5 + e.rng.Float64()*2.0,
			sentiment:     e.rng.Float64()*2.0 - 1.0,
			normal:        boxMuller(e.rng),
			newsVariation: e.rng.Float64()*0.4 - 0.2,
		}
	}
	e.mu.Unlock()

	if event != nil {
		metrics.NewsEvents.WithLabelValues(event.Name).Inc()
		slog.Info("news event fired", "event", event.Name, "impact", event.Impact)
	}

	start := time.Now()
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range markets {
		wg.Add(1)
		go func(code string, draw tickDraw) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if err := e.tickMarket(ctx, code, draw, event); err != nil {
				metrics.SimErrors.Inc()
				slog.Warn("simulation tick failed", "institution", code, "err", err)
				return
			}
			metrics.SimTicks.Inc()
		}(markets[i].InstitutionCode, draws[i])
	}

	wg.Wait()
	slog.Info("simulation pass complete",
		"markets", len(markets),
		"duration", time.Since(start),
	)
	return nil
}

// tickMarket applies one market's decay, random walk, optional news event
// and circuit breaker inside a single locked unit.
func (e *Engine) tickMarket(ctx context.Context, code string, draw tickDraw, event *Event) error {
	var newPrice decimal.Decimal
	var changePct decimal.Decimal
	eventName := ""

	err := e.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.MarketForUpdate(ctx, code)
		if err != nil {
			return err
		}

		now := e.now()
		price := m.Price

		// Inactivity decay runs before any other adjustment and only per
		// whole elapsed day, so repeated ticks never compound it.
		if days := int(now.Sub(m.LastUpdated).Hours() / 24); days > 0 {
			factor := math.Pow(1-e.cfg.DailyDecayRate, float64(days))
			price = price.Mul(decimal.NewFromFloat(factor))
		}

		// Random walk: volatility × sentiment × |normal|, read as percent,
		// clamped to the per-tick bound.
		pct := draw.volatility * draw.sentiment * math.Abs(draw.normal) / 100
		pct = clamp(pct, e.cfg.MaxTickImpact)
		price = price.Mul(decimal.NewFromFloat(1 + pct))

		if event != nil {
			impact := event.Impact * (1 + draw.newsVariation)
			price = price.Mul(decimal.NewFromFloat(1 + impact))
			m.LastEvent = event.Name
			eventName = event.Name
		}

		// Circuit breaker on the implied 24h change: claw back part of any
		// move beyond the threshold so repeated ticks cannot drift
		// unboundedly inside one day.
		price, m.Change24h = e.applyBreaker(m, price)

		price = price.Round(8)
		if price.LessThan(MinPrice) {
			price = MinPrice
		}

		m.Price = price
		m.MarketCap = price.Mul(m.CirculatingSupply).Round(2)
		m.LastUpdated = now
		newPrice = price
		changePct = m.Change24h
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return err
	}

	if e.hub != nil {
		msg := trade.WSMessage{
			Type:            "price_tick",
			InstitutionCode: code,
			Price:           newPrice.String(),
			ChangePct:       changePct.String(),
		}
		if eventName != "" {
			msg.Type = "news_event"
			msg.Event = eventName
		}
		e.hub.Broadcast(msg)
	}
	return nil
}

// applyBreaker compares the candidate price against the price implied 24h
// ago (reconstructed from the cached change) and, when the implied change
// exceeds the threshold, keeps only the configured share of the excess.
// Returns the corrected price and the new implied 24h change.
func (e *Engine) applyBreaker(m *model.Market, candidate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	one := decimal.NewFromInt(1)
	base := one.Add(m.Change24h)
	if base.LessThanOrEqual(decimal.Zero) {
		return candidate, m.Change24h
	}
	ref := m.Price.Div(base)
	if ref.LessThanOrEqual(decimal.Zero) {
		return candidate, m.Change24h
	}

	implied, _ := candidate.Div(ref).Sub(one).Float64()
	threshold := e.cfg.BreakerThreshold
	if math.Abs(implied) <= threshold {
		return candidate, decimal.NewFromFloat(implied).Round(8)
	}

	excess := math.Abs(implied) - threshold
	allowed := threshold + excess*e.cfg.BreakerRetention
	if implied < 0 {
		allowed = -allowed
	}
	corrected := ref.Mul(decimal.NewFromFloat(1 + allowed))
	return corrected, decimal.NewFromFloat(allowed).Round(8)
}

// ApplyReputation runs the low-frequency reputation pass: each market's
// price is multiplied by its institution's configured factor; institutions
// without a factor are left untouched (neutral 1.0).
func (e *Engine) ApplyReputation(ctx context.Context) error {
	markets, err := e.store.ListMarkets(ctx)
	if err != nil {
		return err
	}

	for i := range markets {
		code := markets[i].InstitutionCode
		factor, ok := e.cfg.ReputationFactors[code]
		if !ok || factor == 1.0 {
			continue
		}

		err := e.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
			m, err := tx.MarketForUpdate(ctx, code)
			if err != nil {
				return err
			}
			m.Price = m.Price.Mul(decimal.NewFromFloat(factor)).Round(8)
			if m.Price.LessThan(MinPrice) {
				m.Price = MinPrice
			}
			m.MarketCap = m.Price.Mul(m.CirculatingSupply).Round(2)
			m.LastUpdated = e.now()
			return tx.UpdateMarket(ctx, m)
		})
		if err != nil {
			slog.Warn("reputation pass failed", "institution", code, "err", err)
			continue
		}
		slog.Info("reputation factor applied", "institution", code, "factor", factor)
	}
	return nil
}

// boxMuller draws a standard normal variate from two uniform draws.
func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func clamp(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
