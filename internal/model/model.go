// Package model defines the core domain types shared across the token engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies an economic event in the transaction log.
type TransactionType string

const (
	TxBuy      TransactionType = "buy"
	TxSell     TransactionType = "sell"
	TxSwap     TransactionType = "swap"
	TxDeposit  TransactionType = "deposit"
	TxWithdraw TransactionType = "withdraw"
	TxStake    TransactionType = "stake"
	TxUnstake  TransactionType = "unstake"
	TxGame     TransactionType = "game"
	TxSend     TransactionType = "send"
)

// Transaction statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// institutionCodeRegex matches short uppercase institution codes,
// e.g. UNILAG, OAU, ABU-ZARIA.
var institutionCodeRegex = regexp.MustCompile(`^[A-Z][A-Z0-9-]{1,15}$`)

// ErrInvalidInstitutionCode is returned when a code fails format validation.
var ErrInvalidInstitutionCode = errors.New("model: invalid institution code")

// ValidateInstitutionCode checks the format of an institution code.
func ValidateInstitutionCode(code string) error {
	if !institutionCodeRegex.MatchString(code) {
		return ErrInvalidInstitutionCode
	}
	return nil
}

// Market is the durable per-institution record: one token, one price.
// Mutated only by the trade executor and the simulation engine, always
// under a per-market row lock.
type Market struct {
	ID                string          `json:"id" db:"id"`
	InstitutionCode   string          `json:"institution_code" db:"institution_code"`
	Price             decimal.Decimal `json:"price" db:"price"`
	TotalSupply       decimal.Decimal `json:"total_supply" db:"total_supply"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply" db:"circulating_supply"`
	LiquidityPool     decimal.Decimal `json:"liquidity_pool" db:"liquidity_pool"`
	Volume24h         decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	Change24h         decimal.Decimal `json:"change_24h" db:"change_24h"` // fractional, 0.05 = +5%
	MarketCap         decimal.Decimal `json:"market_cap" db:"market_cap"`
	LastEvent         string          `json:"last_event,omitempty" db:"last_event"` // most recent news event name
	LastUpdated       time.Time       `json:"last_updated" db:"last_updated"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Reserve returns the portion of total supply not yet circulating.
func (m *Market) Reserve() decimal.Decimal {
	return m.TotalSupply.Sub(m.CirculatingSupply)
}

// Snapshot returns the read-only view served by the market endpoints.
func (m *Market) Snapshot() MarketSnapshot {
	return MarketSnapshot{
		InstitutionCode:   m.InstitutionCode,
		Price:             m.Price,
		TotalSupply:       m.TotalSupply,
		CirculatingSupply: m.CirculatingSupply,
		LiquidityPool:     m.LiquidityPool,
		Volume24h:         m.Volume24h,
		Change24h:         m.Change24h,
		MarketCap:         m.MarketCap,
		LastEvent:         m.LastEvent,
		LastUpdated:       m.LastUpdated,
	}
}

// MarketSnapshot is the public view of a market's state. The 24h aggregates
// are cached values recomputed periodically and may be briefly stale.
type MarketSnapshot struct {
	InstitutionCode   string          `json:"institution_code"`
	Price             decimal.Decimal `json:"price"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	LiquidityPool     decimal.Decimal `json:"liquidity_pool"`
	Volume24h         decimal.Decimal `json:"volume_24h"`
	Change24h         decimal.Decimal `json:"change_24h"`
	MarketCap         decimal.Decimal `json:"market_cap"`
	LastEvent         string          `json:"last_event,omitempty"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// Holding is one user's balance of one institution's token. Created lazily
// on first acquisition and kept at zero rather than deleted.
type Holding struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	InstitutionCode string          `json:"institution_code" db:"institution_code"`
	Balance         decimal.Decimal `json:"balance" db:"balance"` // never negative
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Wallet is a user's currency balance — the funding source for buys and the
// destination for sell proceeds. Deposit/withdraw endpoints live outside
// this service; the executor only debits and credits.
type Wallet struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	CurrencyBalance decimal.Decimal `json:"currency_balance" db:"currency_balance"` // never negative
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable record of one economic event. Once written,
// rows are never updated or deleted; they are the only durable history used
// to rebuild 24h stats and price charts.
//
// Amount is the currency notional for buy/sell and the token quantity for
// swap/stake/unstake/game; Price is the execution price of the institution
// token, so Notional recovers the currency value either way.
type Transaction struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Type            TransactionType `json:"type" db:"type"`
	InstitutionCode string          `json:"institution_code" db:"institution_code"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Fee             decimal.Decimal `json:"fee" db:"fee"`
	Price           decimal.Decimal `json:"price" db:"price"` // token price at execution
	TargetCode      string          `json:"target_code,omitempty" db:"target_code"`
	TargetAmount    decimal.Decimal `json:"target_amount" db:"target_amount"` // swap only
	Status          string          `json:"status" db:"status"`
	Note            string          `json:"note,omitempty" db:"note"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Notional returns the currency value this transaction moved.
func (t *Transaction) Notional() decimal.Decimal {
	switch t.Type {
	case TxBuy, TxSell, TxDeposit, TxWithdraw, TxSend:
		return t.Amount
	default:
		return t.Amount.Mul(t.Price)
	}
}
