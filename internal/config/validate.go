package config

import (
	"errors"
	"fmt"

	"github.com/celestia/token-engine/internal/model"
)

// Validate checks that all values are in range. Defaults must already be
// applied; a zero that survived defaulting is a caller bug.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Market.InitialPrice <= 0 {
		return errors.New("market.initial_price must be > 0")
	}
	if c.Market.InitialSupply <= 0 {
		return errors.New("market.initial_supply must be > 0")
	}
	if c.Market.LiquidityFraction <= 0 || c.Market.LiquidityFraction > 1 {
		return errors.New("market.liquidity_fraction must be in (0, 1]")
	}
	if c.Market.Sensitivity <= 0 {
		return errors.New("market.sensitivity must be > 0")
	}
	if c.Market.MaxTradeImpact <= 0 || c.Market.MaxTradeImpact >= 1 {
		return errors.New("market.max_trade_impact must be in (0, 1)")
	}
	if c.Market.BuyFeeRate < 0 || c.Market.BuyFeeRate >= 1 {
		return errors.New("market.buy_fee_rate must be in [0, 1)")
	}
	if c.Market.SellFeeRate < 0 || c.Market.SellFeeRate >= 1 {
		return errors.New("market.sell_fee_rate must be in [0, 1)")
	}
	if c.Market.SwapFeeRate < 0 || c.Market.SwapFeeRate >= 1 {
		return errors.New("market.swap_fee_rate must be in [0, 1)")
	}
	if c.Market.MinTrade <= 0 {
		return errors.New("market.min_trade must be > 0")
	}
	if c.Market.MaxTrade < c.Market.MinTrade {
		return errors.New("market.max_trade must be >= market.min_trade")
	}
	if c.Market.MaxDailyUserVolume < c.Market.MaxTrade {
		return errors.New("market.max_daily_user_volume must be >= market.max_trade")
	}

	if c.Sim.MaxTickImpact <= 0 || c.Sim.MaxTickImpact >= 1 {
		return errors.New("sim.max_tick_impact must be in (0, 1)")
	}
	if c.Sim.DailyDecayRate == nil || *c.Sim.DailyDecayRate < 0 || *c.Sim.DailyDecayRate >= 1 {
		return errors.New("sim.daily_decay_rate must be in [0, 1)")
	}
	if c.Sim.BreakerThreshold <= 0 {
		return errors.New("sim.breaker_threshold must be > 0")
	}
	if c.Sim.BreakerRetention < 0 || c.Sim.BreakerRetention > 1 {
		return errors.New("sim.breaker_retention must be in [0, 1]")
	}
	if c.Sim.NewsProbability == nil || *c.Sim.NewsProbability < 0 || *c.Sim.NewsProbability > 1 {
		return errors.New("sim.news_probability must be in [0, 1]")
	}
	if c.Sim.Concurrency < 1 {
		return errors.New("sim.concurrency must be >= 1")
	}

	for i, s := range c.Seed {
		if err := model.ValidateInstitutionCode(s.InstitutionCode); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}
	for code, factor := range c.Sim.ReputationFactors {
		if factor <= 0 {
			return fmt.Errorf("sim.reputation_factors[%s] must be > 0", code)
		}
	}

	return nil
}
