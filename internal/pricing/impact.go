// Package pricing implements the price impact model for institution token
// markets: a trade's currency notional, measured against the market's
// liquidity depth, produces a bounded percentage price change.
//
// The model is deliberately simple and fully deterministic:
//
//	impact = min(maxImpact, (tradeSize / max(liquidity, floor)) × sensitivity)
//	price' = price × (1 ± impact)
//
// Determinism matters — trade outcomes must be reproducible and testable in
// isolation from the simulation engine's randomness.
//
// All values use shopspring/decimal — never float64 for money.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSensitivity is returned when sensitivity <= 0.
	ErrInvalidSensitivity = errors.New("pricing: sensitivity must be positive")

	// ErrInvalidMaxImpact is returned when the per-trade clamp is not in (0, 1).
	ErrInvalidMaxImpact = errors.New("pricing: max impact must be in (0, 1)")

	// PriceScale is the number of decimal places for price rounding.
	PriceScale int32 = 8
)

// Calculator maps trade size and market depth to a bounded price delta.
// It is stateless — market values are passed as arguments, not stored.
type Calculator struct {
	sensitivity    decimal.Decimal
	maxImpact      decimal.Decimal
	liquidityFloor decimal.Decimal
}

// Direction is the sign of a trade's price pressure.
type Direction int

const (
	Up   Direction = 1  // buy side
	Down Direction = -1 // sell side
)

// NewCalculator creates a price impact calculator.
//
// sensitivity scales raw impact; maxImpact is the single-trade circuit
// breaker (the design uses 0.05); liquidityFloor is the minimum effective
// depth used as a divisor so thin markets cannot produce divide-by-near-zero
// blowups (the design uses 1000).
func NewCalculator(sensitivity, maxImpact, liquidityFloor decimal.Decimal) (*Calculator, error) {
	if sensitivity.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidSensitivity
	}
	if maxImpact.LessThanOrEqual(decimal.Zero) || maxImpact.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidMaxImpact
	}
	if liquidityFloor.LessThan(decimal.NewFromInt(1)) {
		liquidityFloor = decimal.NewFromInt(1)
	}
	return &Calculator{
		sensitivity:    sensitivity,
		maxImpact:      maxImpact,
		liquidityFloor: liquidityFloor,
	}, nil
}

// MaxImpact returns the per-trade impact clamp.
func (c *Calculator) MaxImpact() decimal.Decimal {
	return c.maxImpact
}

// Impact computes the clamped fractional price change for a trade of the
// given currency notional against the given liquidity depth. The result is
// always in [0, maxImpact]; direction is applied separately by Apply.
func (c *Calculator) Impact(tradeSize, liquidity decimal.Decimal) decimal.Decimal {
	if tradeSize.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	basis := liquidity
	if basis.LessThan(c.liquidityFloor) {
		basis = c.liquidityFloor
	}

	raw := tradeSize.Div(basis).Mul(c.sensitivity)
	if raw.GreaterThan(c.maxImpact) {
		return c.maxImpact
	}
	return raw
}

// Apply returns price × (1 ± impact), rounded to PriceScale. Buys push the
// price up, sells push it down. The result never reaches zero: a downward
// move is a multiplication by (1 - impact) with impact < 1.
func (c *Calculator) Apply(price, impact decimal.Decimal, dir Direction) decimal.Decimal {
	one := decimal.NewFromInt(1)
	var factor decimal.Decimal
	if dir == Down {
		factor = one.Sub(impact)
	} else {
		factor = one.Add(impact)
	}
	return price.Mul(factor).Round(PriceScale)
}

// Move is the one-shot helper: compute the impact for a trade and apply it.
func (c *Calculator) Move(price, tradeSize, liquidity decimal.Decimal, dir Direction) decimal.Decimal {
	return c.Apply(price, c.Impact(tradeSize, liquidity), dir)
}
