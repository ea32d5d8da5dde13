package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/celestia/token-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market rows — the hottest read path (snapshots are fetched on
// every chart render). Writes go to the primary store; market keys touched
// inside a committed ExecTx are invalidated afterwards.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func marketKey(code string) string { return fmt.Sprintf("market:%s", code) }

// GetMarket checks Redis first and falls back to the primary store.
func (s *CachedStore) GetMarket(ctx context.Context, code string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(code)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, code)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

// ExecTx delegates to the primary store and, after a successful commit,
// invalidates the cache entry of every market the unit updated.
func (s *CachedStore) ExecTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var touched []string
	err := s.primary.ExecTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &cachedTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	for _, code := range touched {
		s.rdb.Del(ctx, marketKey(code))
	}
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	return s.primary.GetWallet(ctx, userID)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID, code string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, code)
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.primary.ListHoldings(ctx, userID)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID, limit)
}

func (s *CachedStore) ListTransactionsByMarket(ctx context.Context, code string, since time.Time) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByMarket(ctx, code, since)
}

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	return s.primary.CreateWallet(ctx, w)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.InstitutionCode), data, s.ttl)
	}
}

// cachedTx records which markets a transactional unit updates so CachedStore
// can invalidate their cache entries after commit.
type cachedTx struct {
	Tx
	touched *[]string
}

func (t *cachedTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := t.Tx.UpdateMarket(ctx, m); err != nil {
		return err
	}
	*t.touched = append(*t.touched, m.InstitutionCode)
	return nil
}
