// Package limits enforces per-trade and per-user transaction bounds.
//
// Every trade is checked twice: its currency notional must sit inside the
// configured [MinTrade, MaxTrade] window, and the user's rolling 24h traded
// notional must stay under MaxDailyUserVolume. The second check caps how
// much price pressure a single account can exert on thin markets through
// many individually-valid trades.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrBelowMinTrade is returned when a trade's notional is under the minimum.
	ErrBelowMinTrade = errors.New("limits: trade below minimum size")

	// ErrAboveMaxTrade is returned when a trade's notional exceeds the maximum.
	ErrAboveMaxTrade = errors.New("limits: trade above maximum size")

	// ErrDailyVolumeExceeded is returned when a trade would push the user's
	// rolling 24h traded notional past the configured cap.
	ErrDailyVolumeExceeded = errors.New("limits: daily trade volume limit exceeded")
)

// TradeLimiter validates trade sizes against configured bounds.
type TradeLimiter struct {
	// MinTrade is the smallest accepted currency notional per trade.
	MinTrade decimal.Decimal

	// MaxTrade is the largest accepted currency notional per trade.
	MaxTrade decimal.Decimal

	// MaxDailyUserVolume caps one user's summed trade notional over a
	// trailing 24h window. Zero disables the check.
	MaxDailyUserVolume decimal.Decimal
}

// NewTradeLimiter creates a limiter with the given bounds.
func NewTradeLimiter(minTrade, maxTrade, maxDailyUserVolume decimal.Decimal) *TradeLimiter {
	return &TradeLimiter{
		MinTrade:           minTrade,
		MaxTrade:           maxTrade,
		MaxDailyUserVolume: maxDailyUserVolume,
	}
}

// CheckTrade validates a single trade's currency notional.
func (l *TradeLimiter) CheckTrade(notional decimal.Decimal) error {
	if l.MinTrade.IsPositive() && notional.LessThan(l.MinTrade) {
		return ErrBelowMinTrade
	}
	if l.MaxTrade.IsPositive() && notional.GreaterThan(l.MaxTrade) {
		return ErrAboveMaxTrade
	}
	return nil
}

// CheckDailyVolume validates the trade against the user's rolling 24h
// traded notional as recorded in the transaction log.
func (l *TradeLimiter) CheckDailyVolume(notional, dayVolume decimal.Decimal) error {
	if !l.MaxDailyUserVolume.IsPositive() {
		return nil
	}
	if dayVolume.Add(notional).GreaterThan(l.MaxDailyUserVolume) {
		return ErrDailyVolumeExceeded
	}
	return nil
}
