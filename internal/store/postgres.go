package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/model"
)

// txMaxRetries bounds how often ExecTx retries serialization failures
// before surfacing ErrConflict.
const txMaxRetries = 3

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row-level locking (SELECT ... FOR UPDATE) serializes concurrent writers
// on the same market.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, institution_code,
	price::TEXT, total_supply::TEXT, circulating_supply::TEXT,
	liquidity_pool::TEXT, volume_24h::TEXT, change_24h::TEXT, market_cap::TEXT,
	last_event, last_updated, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var price, totalSupply, circSupply, liquidity, volume, change, cap string

	err := row.Scan(&m.ID, &m.InstitutionCode,
		&price, &totalSupply, &circSupply,
		&liquidity, &volume, &change, &cap,
		&m.LastEvent, &m.LastUpdated, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.Price, _ = decimal.NewFromString(price)
	m.TotalSupply, _ = decimal.NewFromString(totalSupply)
	m.CirculatingSupply, _ = decimal.NewFromString(circSupply)
	m.LiquidityPool, _ = decimal.NewFromString(liquidity)
	m.Volume24h, _ = decimal.NewFromString(volume)
	m.Change24h, _ = decimal.NewFromString(change)
	m.MarketCap, _ = decimal.NewFromString(cap)

	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, code string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE institution_code = $1`, code)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", code, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY institution_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, institution_code, price, total_supply, circulating_supply,
		                      liquidity_pool, volume_24h, change_24h, market_cap,
		                      last_event, last_updated, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10, $11, $12)`,
		m.ID, m.InstitutionCode,
		m.Price.String(), m.TotalSupply.String(), m.CirculatingSupply.String(),
		m.LiquidityPool.String(), m.Volume24h.String(), m.Change24h.String(), m.MarketCap.String(),
		m.LastEvent, m.LastUpdated, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrMarketExists
	}
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, currency_balance::TEXT, updated_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.ID, &w.UserID, &balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	w.CurrencyBalance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (id, user_id, currency_balance, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		w.ID, w.UserID, w.CurrencyBalance.String(), w.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID, code string) (*model.Holding, error) {
	var h model.Holding
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, institution_code, balance::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 AND institution_code = $2`, userID, code).
		Scan(&h.ID, &h.UserID, &h.InstitutionCode, &balance, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Holding{UserID: userID, InstitutionCode: code, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, code, err)
	}
	h.Balance, _ = decimal.NewFromString(balance)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, institution_code, balance::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 ORDER BY institution_code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var balance string
		if err := rows.Scan(&h.ID, &h.UserID, &h.InstitutionCode, &balance, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Balance, _ = decimal.NewFromString(balance)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

const transactionColumns = `id, user_id, type, institution_code,
	amount::TEXT, fee::TEXT, price::TEXT, target_code, target_amount::TEXT,
	status, note, created_at`

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount, fee, price, targetAmount string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.InstitutionCode,
			&amount, &fee, &price, &t.TargetCode, &targetAmount,
			&t.Status, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		t.Fee, _ = decimal.NewFromString(fee)
		t.Price, _ = decimal.NewFromString(price)
		t.TargetAmount, _ = decimal.NewFromString(targetAmount)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactionsByMarket(ctx context.Context, code string, since time.Time) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE institution_code = $1 AND created_at >= $2
		 ORDER BY created_at`, code, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ExecTx runs fn in a single transaction, retrying bounded times on
// serialization (40001) and deadlock (40P01) failures.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarketForUpdate(ctx context.Context, code string) (*model.Market, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE institution_code = $1 FOR UPDATE`, code)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock market %s: %w", code, err)
	}
	return m, nil
}

func (t *pgTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET price = $2::NUMERIC, total_supply = $3::NUMERIC,
		     circulating_supply = $4::NUMERIC, liquidity_pool = $5::NUMERIC,
		     volume_24h = $6::NUMERIC, change_24h = $7::NUMERIC,
		     market_cap = $8::NUMERIC, last_event = $9, last_updated = $10
		 WHERE institution_code = $1`,
		m.InstitutionCode,
		m.Price.String(), m.TotalSupply.String(),
		m.CirculatingSupply.String(), m.LiquidityPool.String(),
		m.Volume24h.String(), m.Change24h.String(),
		m.MarketCap.String(), m.LastEvent, m.LastUpdated,
	)
	return err
}

func (t *pgTx) WalletForUpdate(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := t.tx.QueryRow(ctx,
		`SELECT id, user_id, currency_balance::TEXT, updated_at
		 FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&w.ID, &w.UserID, &balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	w.CurrencyBalance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE wallets SET currency_balance = $2::NUMERIC, updated_at = $3
		 WHERE user_id = $1`,
		w.UserID, w.CurrencyBalance.String(), w.UpdatedAt,
	)
	return err
}

func (t *pgTx) HoldingForUpdate(ctx context.Context, userID, code string) (*model.Holding, error) {
	var h model.Holding
	var balance string

	err := t.tx.QueryRow(ctx,
		`SELECT id, user_id, institution_code, balance::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 AND institution_code = $2 FOR UPDATE`,
		userID, code).
		Scan(&h.ID, &h.UserID, &h.InstitutionCode, &balance, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Holding{UserID: userID, InstitutionCode: code, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock holding %s/%s: %w", userID, code, err)
	}
	h.Balance, _ = decimal.NewFromString(balance)
	return &h, nil
}

func (t *pgTx) UpsertHolding(ctx context.Context, h *model.Holding) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO holdings (id, user_id, institution_code, balance, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, institution_code)
		 DO UPDATE SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
		h.ID, h.UserID, h.InstitutionCode, h.Balance.String(), h.UpdatedAt,
	)
	return err
}

func (t *pgTx) AppendTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, institution_code,
		                           amount, fee, price, target_code, target_amount,
		                           status, note, created_at)
		 VALUES ($1, $2, $3, $4,
		         $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::NUMERIC,
		         $10, $11, $12)`,
		tr.ID, tr.UserID, tr.Type, tr.InstitutionCode,
		tr.Amount.String(), tr.Fee.String(), tr.Price.String(),
		tr.TargetCode, tr.TargetAmount.String(),
		tr.Status, tr.Note, tr.CreatedAt,
	)
	return err
}

func (t *pgTx) MarketTransactionsSince(ctx context.Context, code string, since time.Time) ([]model.Transaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE institution_code = $1 AND created_at >= $2
		 ORDER BY created_at`, code, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *pgTx) UserNotionalSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var sum string
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type IN ('buy','sell') THEN amount
		                          ELSE amount * price END), 0)::TEXT
		 FROM transactions
		 WHERE user_id = $1 AND created_at >= $2 AND type IN ('buy','sell','swap')`,
		userID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(sum)
	return d, nil
}
