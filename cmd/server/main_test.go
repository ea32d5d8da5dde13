package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/celestia/token-engine/internal/config"
	"github.com/celestia/token-engine/internal/metrics"
	"github.com/celestia/token-engine/internal/store"
)

func TestSeedMarkets_SetsActiveMarketsGauge(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	cfg := config.Default()
	cfg.Seed = []config.SeedMarket{
		{InstitutionCode: "UNILAG"},
		{InstitutionCode: "OAU", InitialPrice: 1.5},
	}

	if err := seedMarkets(ctx, ms, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	markets, err := ms.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("seeded %d markets, want 2", len(markets))
	}
	if got := testutil.ToFloat64(metrics.ActiveMarkets); got != 2 {
		t.Fatalf("active markets gauge = %v, want 2", got)
	}

	// Re-seeding skips existing markets and keeps the gauge accurate.
	if err := seedMarkets(ctx, ms, cfg); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveMarkets); got != 2 {
		t.Fatalf("active markets gauge after reseed = %v, want 2", got)
	}
}
