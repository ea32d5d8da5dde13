package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. ExecTx serializes on one mutex and restores a snapshot on
// failure, so concurrent callers observe the same all-or-nothing semantics
// as the PostgreSQL implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[string]*model.Market  // institution code → market
	wallets  map[string]*model.Wallet  // user id → wallet
	holdings map[string]*model.Holding // user id + "/" + code → holding
	ledger   []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*model.Market),
		wallets:  make(map[string]*model.Wallet),
		holdings: make(map[string]*model.Holding),
	}
}

func holdingKey(userID, code string) string { return userID + "/" + code }

func (s *MemoryStore) GetMarket(_ context.Context, code string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[code]
	if !ok {
		return nil, ErrMarketNotFound
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].InstitutionCode < markets[j].InstitutionCode
	})
	return markets, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, code string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(userID, code)]
	if !ok {
		return &model.Holding{UserID: userID, InstitutionCode: code, Balance: decimal.Zero}, nil
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			holdings = append(holdings, *h)
		}
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].InstitutionCode < holdings[j].InstitutionCode
	})
	return holdings, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.ledger) - 1; i >= 0 && len(result) < limit; i-- {
		if s.ledger[i].UserID == userID {
			result = append(result, s.ledger[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTransactionsByMarket(_ context.Context, code string, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketTransactionsSinceLocked(code, since), nil
}

func (s *MemoryStore) marketTransactionsSinceLocked(code string, since time.Time) []model.Transaction {
	var result []model.Transaction
	for _, t := range s.ledger {
		if t.InstitutionCode == code && !t.CreatedAt.Before(since) {
			result = append(result, t)
		}
	}
	return result
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.InstitutionCode]; exists {
		return ErrMarketExists
	}
	copy := *m
	s.markets[m.InstitutionCode] = &copy
	return nil
}

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *w
	s.wallets[w.UserID] = &copy
	return nil
}

// ExecTx serializes all transactional work on one mutex. A snapshot of the
// mutable state is taken first and restored if fn fails, so a failed unit
// leaves no partial mutation behind.
func (s *MemoryStore) ExecTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	markets   map[string]*model.Market
	wallets   map[string]*model.Wallet
	holdings  map[string]*model.Holding
	ledgerLen int
}

func (s *MemoryStore) snapshotLocked() memSnapshot {
	snap := memSnapshot{
		markets:   make(map[string]*model.Market, len(s.markets)),
		wallets:   make(map[string]*model.Wallet, len(s.wallets)),
		holdings:  make(map[string]*model.Holding, len(s.holdings)),
		ledgerLen: len(s.ledger),
	}
	for k, v := range s.markets {
		copy := *v
		snap.markets[k] = &copy
	}
	for k, v := range s.wallets {
		copy := *v
		snap.wallets[k] = &copy
	}
	for k, v := range s.holdings {
		copy := *v
		snap.holdings[k] = &copy
	}
	return snap
}

func (s *MemoryStore) restoreLocked(snap memSnapshot) {
	s.markets = snap.markets
	s.wallets = snap.wallets
	s.holdings = snap.holdings
	s.ledger = s.ledger[:snap.ledgerLen]
}

// memTx operates directly on the store's maps; the ExecTx mutex is already
// held for the whole unit.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) MarketForUpdate(_ context.Context, code string) (*model.Market, error) {
	m, ok := t.s.markets[code]
	if !ok {
		return nil, ErrMarketNotFound
	}
	copy := *m
	return &copy, nil
}

func (t *memTx) UpdateMarket(_ context.Context, m *model.Market) error {
	if _, ok := t.s.markets[m.InstitutionCode]; !ok {
		return ErrMarketNotFound
	}
	copy := *m
	t.s.markets[m.InstitutionCode] = &copy
	return nil
}

func (t *memTx) WalletForUpdate(_ context.Context, userID string) (*model.Wallet, error) {
	w, ok := t.s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copy := *w
	return &copy, nil
}

func (t *memTx) UpdateWallet(_ context.Context, w *model.Wallet) error {
	copy := *w
	t.s.wallets[w.UserID] = &copy
	return nil
}

func (t *memTx) HoldingForUpdate(_ context.Context, userID, code string) (*model.Holding, error) {
	h, ok := t.s.holdings[holdingKey(userID, code)]
	if !ok {
		return &model.Holding{UserID: userID, InstitutionCode: code, Balance: decimal.Zero}, nil
	}
	copy := *h
	return &copy, nil
}

func (t *memTx) UpsertHolding(_ context.Context, h *model.Holding) error {
	copy := *h
	t.s.holdings[holdingKey(h.UserID, h.InstitutionCode)] = &copy
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, tr *model.Transaction) error {
	t.s.ledger = append(t.s.ledger, *tr)
	return nil
}

func (t *memTx) MarketTransactionsSince(_ context.Context, code string, since time.Time) ([]model.Transaction, error) {
	return t.s.marketTransactionsSinceLocked(code, since), nil
}

func (t *memTx) UserNotionalSince(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tr := range t.s.ledger {
		if tr.UserID != userID || tr.CreatedAt.Before(since) {
			continue
		}
		switch tr.Type {
		case model.TxBuy, model.TxSell, model.TxSwap:
			sum = sum.Add(tr.Notional())
		}
	}
	return sum, nil
}
