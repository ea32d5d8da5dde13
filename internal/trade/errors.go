package trade

import "errors"

// Business-rule failures surfaced by the executor. All of them roll the
// enclosing transaction back in full — no partial ledger mutation survives.
var (
	// ErrInvalidAmount is returned for non-positive trade sizes.
	ErrInvalidAmount = errors.New("trade: amount must be positive")

	// ErrMarketNotFound is returned when no market exists for the
	// requested institution code.
	ErrMarketNotFound = errors.New("trade: market not found")

	// ErrWalletNotFound is returned when the user has no wallet.
	ErrWalletNotFound = errors.New("trade: wallet not found")

	// ErrInsufficientFunds is returned when a buy exceeds the wallet's
	// currency balance.
	ErrInsufficientFunds = errors.New("trade: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell or swap exceeds the
	// user's token balance.
	ErrInsufficientHoldings = errors.New("trade: insufficient holdings")

	// ErrInsufficientReserve is returned when a buy would push circulating
	// supply past total supply.
	ErrInsufficientReserve = errors.New("trade: insufficient token reserve")

	// ErrInvalidSwap is returned when source and target institutions match.
	ErrInvalidSwap = errors.New("trade: cannot swap a token for itself")

	// ErrNegativeBalance is returned when a settlement would take a
	// holding below zero.
	ErrNegativeBalance = errors.New("trade: balance would go negative")

	// ErrInvalidSettlementKind is returned when a settlement uses a
	// transaction type outside stake/unstake/game.
	ErrInvalidSettlementKind = errors.New("trade: invalid settlement kind")

	// ErrConcurrencyConflict is returned when lock contention exhausted
	// the bounded internal retries; the operation may be retried.
	ErrConcurrencyConflict = errors.New("trade: concurrent update conflict, retry")
)
