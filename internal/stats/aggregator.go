// Package stats recomputes the cached 24h aggregates on each market from
// the immutable transaction log. The aggregates are derived display values,
// never the source of truth for price.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/metrics"
	"github.com/celestia/token-engine/internal/store"
)

// Aggregator folds the trailing-24h transaction window back into each
// market's volume_24h, change_24h and market_cap columns.
type Aggregator struct {
	store store.Store
	now   func() time.Time
}

// NewAggregator creates a stats aggregator.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Recompute refreshes every market's cached aggregates. Each market runs in
// its own unit; one failure is logged and does not abort the pass.
func (a *Aggregator) Recompute(ctx context.Context) error {
	markets, err := a.store.ListMarkets(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	for i := range markets {
		code := markets[i].InstitutionCode
		if err := a.recomputeMarket(ctx, code); err != nil {
			slog.Warn("stats recompute failed", "institution", code, "err", err)
		}
	}
	metrics.StatsRuns.Inc()

	slog.Info("stats pass complete",
		"markets", len(markets),
		"duration", time.Since(start),
	)
	return nil
}

// recomputeMarket derives one market's aggregates under the market lock:
// volume is the summed notional of in-window transactions; the 24h change
// compares the current price against the earliest in-window transaction's
// recorded execution price. A market with no in-window trades keeps a zero
// change — a known approximation, not a contract.
func (a *Aggregator) recomputeMarket(ctx context.Context, code string) error {
	return a.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.MarketForUpdate(ctx, code)
		if err != nil {
			return err
		}

		since := a.now().Add(-24 * time.Hour)
		txs, err := tx.MarketTransactionsSince(ctx, code, since)
		if err != nil {
			return err
		}

		volume := decimal.Zero
		for i := range txs {
			volume = volume.Add(txs[i].Notional())
		}

		change := decimal.Zero
		if len(txs) > 0 && txs[0].Price.IsPositive() {
			earliest := txs[0].Price
			change = m.Price.Sub(earliest).Div(earliest).Round(8)
		}

		m.Volume24h = volume
		m.Change24h = change
		m.MarketCap = m.Price.Mul(m.CirculatingSupply).Round(2)
		// LastUpdated untouched: the aggregates are not a price-affecting
		// mutation and must not mask inactivity.
		return tx.UpdateMarket(ctx, m)
	})
}
