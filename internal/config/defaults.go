package config

import "time"

// applyDefaults fills in zero-valued fields with production defaults.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(15 * time.Second)
	}

	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = Duration(30 * time.Second)
	}

	if c.Market.InitialPrice == 0 {
		c.Market.InitialPrice = 1.0
	}
	if c.Market.InitialSupply == 0 {
		c.Market.InitialSupply = 1_000_000
	}
	if c.Market.LiquidityFraction == 0 {
		c.Market.LiquidityFraction = 0.1
	}
	if c.Market.Sensitivity == 0 {
		c.Market.Sensitivity = 0.05
	}
	if c.Market.MaxTradeImpact == 0 {
		c.Market.MaxTradeImpact = 0.05
	}
	if c.Market.LiquidityFloor == 0 {
		c.Market.LiquidityFloor = 1000
	}
	if c.Market.BuyFeeRate == 0 {
		c.Market.BuyFeeRate = 0.005
	}
	if c.Market.SellFeeRate == 0 {
		c.Market.SellFeeRate = 0.005
	}
	if c.Market.SwapFeeRate == 0 {
		c.Market.SwapFeeRate = 0.005
	}
	if c.Market.MinTrade == 0 {
		c.Market.MinTrade = 1
	}
	if c.Market.MaxTrade == 0 {
		c.Market.MaxTrade = 100_000
	}
	if c.Market.MaxDailyUserVolume == 0 {
		c.Market.MaxDailyUserVolume = 500_000
	}

	if c.Sim.TickInterval == 0 {
		c.Sim.TickInterval = Duration(5 * time.Minute)
	}
	if c.Sim.StatsInterval == 0 {
		c.Sim.StatsInterval = Duration(10 * time.Minute)
	}
	if c.Sim.ReputationInterval == 0 {
		c.Sim.ReputationInterval = Duration(24 * time.Hour)
	}
	if c.Sim.MaxTickImpact == 0 {
		c.Sim.MaxTickImpact = 0.05
	}
	if c.Sim.DailyDecayRate == nil {
		c.Sim.DailyDecayRate = floatPtr(0.001)
	}
	if c.Sim.BreakerThreshold == 0 {
		c.Sim.BreakerThreshold = 0.20
	}
	if c.Sim.BreakerRetention == 0 {
		c.Sim.BreakerRetention = 0.50
	}
	if c.Sim.NewsProbability == nil {
		c.Sim.NewsProbability = floatPtr(0.10)
	}
	if c.Sim.Concurrency == 0 {
		c.Sim.Concurrency = 8
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
