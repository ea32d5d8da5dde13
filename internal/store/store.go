// Package store defines the persistence interface for the token engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for market rows), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/model"
)

var (
	// ErrMarketNotFound is returned when no market exists for a code.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrMarketExists is returned when creating a market whose
	// institution code is already taken.
	ErrMarketExists = errors.New("store: market already exists")

	// ErrWalletNotFound is returned when a user has no wallet row.
	ErrWalletNotFound = errors.New("store: wallet not found")

	// ErrConflict is returned when a transactional unit exhausted its
	// retries against serialization or deadlock failures.
	ErrConflict = errors.New("store: transaction conflict")
)

// Store is the persistence interface. Reads outside ExecTx see committed
// state and take no locks; every mutation of Market, Holding, Wallet or
// Transaction rows must happen inside a single ExecTx call so that one
// business operation commits or rolls back as a unit.
type Store interface {
	// --- Plain reads ---

	// GetMarket retrieves a market by institution code.
	GetMarket(ctx context.Context, code string) (*model.Market, error)

	// ListMarkets returns all markets ordered by institution code.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// GetWallet retrieves a user's wallet.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// GetHolding retrieves a user's holding for one institution. A missing
	// row is returned as a zero-balance holding, not an error.
	GetHolding(ctx context.Context, userID, code string) (*model.Holding, error)

	// ListHoldings returns all of a user's holdings.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// ListTransactionsByUser returns a user's most recent transactions,
	// newest first.
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// ListTransactionsByMarket returns a market's transactions at or after
	// since, oldest first.
	ListTransactionsByMarket(ctx context.Context, code string, since time.Time) ([]model.Transaction, error)

	// --- Mutations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// CreateWallet persists a new wallet.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// ExecTx runs fn inside one all-or-nothing transaction. Serialization
	// and deadlock failures are retried a bounded number of times before
	// surfacing as ErrConflict.
	ExecTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the handle passed to ExecTx callbacks. The ForUpdate reads take the
// row lock that serializes concurrent trades and simulation ticks on the
// same market; callers locking more than one market must acquire the locks
// in lexical institution-code order to avoid deadlock.
type Tx interface {
	// MarketForUpdate reads and locks a market row.
	MarketForUpdate(ctx context.Context, code string) (*model.Market, error)

	// UpdateMarket writes back a market previously locked in this Tx.
	UpdateMarket(ctx context.Context, m *model.Market) error

	// WalletForUpdate reads and locks a user's wallet row.
	WalletForUpdate(ctx context.Context, userID string) (*model.Wallet, error)

	// UpdateWallet writes back a wallet previously locked in this Tx.
	UpdateWallet(ctx context.Context, w *model.Wallet) error

	// HoldingForUpdate reads and locks a holding row. A missing row is
	// returned as a zero-balance holding with an empty ID.
	HoldingForUpdate(ctx context.Context, userID, code string) (*model.Holding, error)

	// UpsertHolding inserts or updates a holding row.
	UpsertHolding(ctx context.Context, h *model.Holding) error

	// AppendTransaction appends an immutable transaction record.
	AppendTransaction(ctx context.Context, t *model.Transaction) error

	// MarketTransactionsSince returns a market's transactions at or after
	// since, oldest first.
	MarketTransactionsSince(ctx context.Context, code string, since time.Time) ([]model.Transaction, error)

	// UserNotionalSince sums the currency notional a user has traded
	// (buy, sell, swap) at or after since.
	UserNotionalSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
}
