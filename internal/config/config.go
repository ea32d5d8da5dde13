// Package config loads the engine's YAML configuration with environment
// variable expansion, defaults and validation.
package config

// Config is the root configuration for a token-engine instance.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Market   MarketConfig   `yaml:"market"`
	Sim      SimConfig      `yaml:"sim"`
	Seed     []SeedMarket   `yaml:"seed"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection. An empty URL selects the
// in-memory store, for local development only.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig holds the market cache settings. An empty address disables
// caching entirely.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// MarketConfig holds trading economics: creation defaults, the price
// impact curve, fee rates and per-trade limits. Rates and amounts are
// plain floats here and converted to decimal once at wiring time.
type MarketConfig struct {
	InitialPrice      float64 `yaml:"initial_price"`
	InitialSupply     float64 `yaml:"initial_supply"`
	LiquidityFraction float64 `yaml:"liquidity_fraction"`

	Sensitivity    float64 `yaml:"sensitivity"`
	MaxTradeImpact float64 `yaml:"max_trade_impact"`
	LiquidityFloor float64 `yaml:"liquidity_floor"`

	BuyFeeRate  float64 `yaml:"buy_fee_rate"`
	SellFeeRate float64 `yaml:"sell_fee_rate"`
	SwapFeeRate float64 `yaml:"swap_fee_rate"`

	MinTrade           float64 `yaml:"min_trade"`
	MaxTrade           float64 `yaml:"max_trade"`
	MaxDailyUserVolume float64 `yaml:"max_daily_user_volume"`
}

// SimConfig holds the background simulation parameters.
type SimConfig struct {
	TickInterval       Duration `yaml:"tick_interval"`
	StatsInterval      Duration `yaml:"stats_interval"`
	ReputationInterval Duration `yaml:"reputation_interval"`

	MaxTickImpact    float64 `yaml:"max_tick_impact"`
	BreakerThreshold float64 `yaml:"breaker_threshold"`
	BreakerRetention float64 `yaml:"breaker_retention"`
	Concurrency      int     `yaml:"concurrency"`

	// Pointers so an explicit 0 in the file disables the mechanism
	// instead of snapping back to the default.
	DailyDecayRate  *float64 `yaml:"daily_decay_rate"`
	NewsProbability *float64 `yaml:"news_probability"`

	ReputationFactors map[string]float64 `yaml:"reputation_factors"`
}

// SeedMarket describes one market created at startup if absent. Zero
// price/supply fall back to the MarketConfig defaults.
type SeedMarket struct {
	InstitutionCode string  `yaml:"institution_code"`
	InitialPrice    float64 `yaml:"initial_price"`
	InitialSupply   float64 `yaml:"initial_supply"`
}
