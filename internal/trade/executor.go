// Package trade implements the trade executor — the single code path that
// mutates market, holding and wallet state in response to user operations —
// and the HTTP handlers exposing it.
//
// Every operation is one atomic transition: validate, compute impact, write
// all affected rows, append the immutable transaction record. There are no
// intermediate states; a failure rolls the whole unit back.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/celestia/token-engine/internal/limits"
	"github.com/celestia/token-engine/internal/model"
	"github.com/celestia/token-engine/internal/pricing"
	"github.com/celestia/token-engine/internal/store"
)

// Rounding scales: currency amounts to 2 dp, token quantities to 8 dp.
const (
	CurrencyScale int32 = 2
	QtyScale      int32 = 8
)

// Fees holds the per-operation fee rates.
type Fees struct {
	BuyRate  decimal.Decimal
	SellRate decimal.Decimal
	SwapRate decimal.Decimal
}

// Executor orchestrates buys, sells, swaps and stake settlements. Identity
// is always an explicit argument — the executor holds no ambient request
// state. Concurrency control lives in the store: every operation runs under
// row locks inside one store.ExecTx unit.
type Executor struct {
	store   store.Store
	calc    *pricing.Calculator
	limiter *limits.TradeLimiter
	fees    Fees
	now     func() time.Time
}

// NewExecutor creates a trade executor.
func NewExecutor(st store.Store, calc *pricing.Calculator, limiter *limits.TradeLimiter, fees Fees) *Executor {
	return &Executor{
		store:   st,
		calc:    calc,
		limiter: limiter,
		fees:    fees,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BuyResult is returned from a committed buy.
type BuyResult struct {
	TokenQty        decimal.Decimal `json:"token_qty"`
	NewPrice        decimal.Decimal `json:"new_price"`
	Fee             decimal.Decimal `json:"fee"`
	CurrencyBalance decimal.Decimal `json:"currency_balance"`
}

// SellResult is returned from a committed sell.
type SellResult struct {
	Proceeds     decimal.Decimal `json:"proceeds"`
	NewPrice     decimal.Decimal `json:"new_price"`
	Fee          decimal.Decimal `json:"fee"`
	TokenBalance decimal.Decimal `json:"token_balance"`
}

// SwapResult is returned from a committed swap.
type SwapResult struct {
	TargetQty   decimal.Decimal `json:"target_qty"`
	SourcePrice decimal.Decimal `json:"source_price"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Fee         decimal.Decimal `json:"fee"`
}

// SettleResult is returned from a committed stake/game settlement.
type SettleResult struct {
	TokenBalance decimal.Decimal `json:"token_balance"`
	Price        decimal.Decimal `json:"price"`
}

// Buy spends currencyAmount from the user's wallet on the institution's
// token. The fee is taken from the notional before conversion; the price
// moves upward by the bounded impact of the full notional.
func (e *Executor) Buy(ctx context.Context, userID, code string, amount decimal.Decimal) (*BuyResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := e.limiter.CheckTrade(amount); err != nil {
		return nil, err
	}

	var result BuyResult
	err := e.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, code)
		if err != nil {
			return err
		}
		wallet, err := tx.WalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := e.checkDailyVolume(ctx, tx, userID, amount, now); err != nil {
			return err
		}

		if wallet.CurrencyBalance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		fee := amount.Mul(e.fees.BuyRate).Round(CurrencyScale)
		priceBefore := market.Price
		qty := amount.Sub(fee).Div(priceBefore).Round(QtyScale)
		if qty.GreaterThan(market.Reserve()) {
			return ErrInsufficientReserve
		}

		wallet.CurrencyBalance = wallet.CurrencyBalance.Sub(amount)
		wallet.UpdatedAt = now
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}

		holding, err := tx.HoldingForUpdate(ctx, userID, code)
		if err != nil {
			return err
		}
		if err := e.adjustHolding(ctx, tx, holding, qty, now); err != nil {
			return err
		}

		market.Price = e.calc.Move(priceBefore, amount, market.LiquidityPool, pricing.Up)
		market.CirculatingSupply = market.CirculatingSupply.Add(qty)
		market.Volume24h = market.Volume24h.Add(amount)
		market.LiquidityPool = market.LiquidityPool.Add(amount)
		market.LastUpdated = now
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID:              uuid.New().String(),
			UserID:          userID,
			Type:            model.TxBuy,
			InstitutionCode: code,
			Amount:          amount,
			Fee:             fee,
			Price:           priceBefore,
			Status:          model.StatusCompleted,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		result = BuyResult{
			TokenQty:        qty,
			NewPrice:        market.Price,
			Fee:             fee,
			CurrencyBalance: wallet.CurrencyBalance,
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return &result, nil
}

// Sell converts tokenQty of the user's holding back into currency. The fee
// is taken from the gross proceeds; the price moves downward by the bounded
// impact of the net proceeds.
func (e *Executor) Sell(ctx context.Context, userID, code string, qty decimal.Decimal) (*SellResult, error) {
	if !qty.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result SellResult
	err := e.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, code)
		if err != nil {
			return err
		}

		gross := qty.Mul(market.Price).Round(CurrencyScale)
		if err := e.limiter.CheckTrade(gross); err != nil {
			return err
		}

		now := e.now()
		if err := e.checkDailyVolume(ctx, tx, userID, gross, now); err != nil {
			return err
		}

		holding, err := tx.HoldingForUpdate(ctx, userID, code)
		if err != nil {
			return err
		}
		if holding.Balance.LessThan(qty) {
			return ErrInsufficientHoldings
		}

		wallet, err := tx.WalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		fee := gross.Mul(e.fees.SellRate).Round(CurrencyScale)
		proceeds := gross.Sub(fee)
		priceBefore := market.Price

		if err := e.adjustHolding(ctx, tx, holding, qty.Neg(), now); err != nil {
			return err
		}

		wallet.CurrencyBalance = wallet.CurrencyBalance.Add(proceeds)
		wallet.UpdatedAt = now
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}

		market.Price = e.calc.Move(priceBefore, proceeds, market.LiquidityPool, pricing.Down)
		market.CirculatingSupply = market.CirculatingSupply.Sub(qty)
		market.Volume24h = market.Volume24h.Add(gross)
		market.LiquidityPool = decimal.Max(decimal.Zero, market.LiquidityPool.Sub(proceeds))
		market.LastUpdated = now
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID:              uuid.New().String(),
			UserID:          userID,
			Type:            model.TxSell,
			InstitutionCode: code,
			Amount:          gross,
			Fee:             fee,
			Price:           priceBefore,
			Status:          model.StatusCompleted,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		result = SellResult{
			Proceeds:     proceeds,
			NewPrice:     market.Price,
			Fee:          fee,
			TokenBalance: holding.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return &result, nil
}

// Swap converts sourceQty of one institution's token into another's via the
// common currency value. Both market rows update inside the same unit; the
// locks are acquired in lexical institution-code order so two swaps over
// the same pair in opposite order cannot deadlock.
func (e *Executor) Swap(ctx context.Context, userID, sourceCode, targetCode string, qty decimal.Decimal) (*SwapResult, error) {
	if sourceCode == targetCode {
		return nil, ErrInvalidSwap
	}
	if !qty.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result SwapResult
	err := e.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
		markets, err := lockMarketsOrdered(ctx, tx, sourceCode, targetCode)
		if err != nil {
			return err
		}
		src, dst := markets[sourceCode], markets[targetCode]

		value := qty.Mul(src.Price).Round(CurrencyScale)
		if err := e.limiter.CheckTrade(value); err != nil {
			return err
		}

		now := e.now()
		if err := e.checkDailyVolume(ctx, tx, userID, value, now); err != nil {
			return err
		}

		srcHolding, err := tx.HoldingForUpdate(ctx, userID, sourceCode)
		if err != nil {
			return err
		}
		if srcHolding.Balance.LessThan(qty) {
			return ErrInsufficientHoldings
		}

		fee := value.Mul(e.fees.SwapRate).Round(CurrencyScale)
		net := value.Sub(fee)
		srcPriceBefore, dstPriceBefore := src.Price, dst.Price
		targetQty := net.Div(dstPriceBefore).Round(QtyScale)
		if targetQty.GreaterThan(dst.Reserve()) {
			return ErrInsufficientReserve
		}

		if err := e.adjustHolding(ctx, tx, srcHolding, qty.Neg(), now); err != nil {
			return err
		}
		dstHolding, err := tx.HoldingForUpdate(ctx, userID, targetCode)
		if err != nil {
			return err
		}
		if err := e.adjustHolding(ctx, tx, dstHolding, targetQty, now); err != nil {
			return err
		}

		src.Price = e.calc.Move(srcPriceBefore, value, src.LiquidityPool, pricing.Down)
		src.CirculatingSupply = src.CirculatingSupply.Sub(qty)
		src.Volume24h = src.Volume24h.Add(value)
		src.LiquidityPool = decimal.Max(decimal.Zero, src.LiquidityPool.Sub(net))
		src.LastUpdated = now

		dst.Price = e.calc.Move(dstPriceBefore, net, dst.LiquidityPool, pricing.Up)
		dst.CirculatingSupply = dst.CirculatingSupply.Add(targetQty)
		dst.Volume24h = dst.Volume24h.Add(net)
		dst.LiquidityPool = dst.LiquidityPool.Add(net)
		dst.LastUpdated = now

		if err := tx.UpdateMarket(ctx, src); err != nil {
			return err
		}
		if err := tx.UpdateMarket(ctx, dst); err != nil {
			return err
		}

		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID:              uuid.New().String(),
			UserID:          userID,
			Type:            model.TxSwap,
			InstitutionCode: sourceCode,
			Amount:          qty,
			Fee:             fee,
			Price:           srcPriceBefore,
			TargetCode:      targetCode,
			TargetAmount:    targetQty,
			Status:          model.StatusCompleted,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		result = SwapResult{
			TargetQty:   targetQty,
			SourcePrice: src.Price,
			TargetPrice: dst.Price,
			Fee:         fee,
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return &result, nil
}

// Settle applies a pre-computed stake delta from the games/challenges
// collaborator to a holding: negative for a stake, positive for unstake or
// a game payout. It never moves the price, but it mirrors the delta into
// the market's circulating supply so the supply always equals the sum of
// holdings, the same bookkeeping a buy or sell does.
func (e *Executor) Settle(ctx context.Context, userID, code string, delta decimal.Decimal, kind model.TransactionType, note string) (*SettleResult, error) {
	switch kind {
	case model.TxStake, model.TxUnstake, model.TxGame:
	default:
		return nil, ErrInvalidSettlementKind
	}
	if delta.IsZero() {
		return nil, ErrInvalidAmount
	}

	var result SettleResult
	err := e.store.ExecTx(ctx, func(ctx context.Context, tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, code)
		if err != nil {
			return err
		}

		holding, err := tx.HoldingForUpdate(ctx, userID, code)
		if err != nil {
			return err
		}

		if delta.IsPositive() && delta.GreaterThan(market.Reserve()) {
			return ErrInsufficientReserve
		}

		now := e.now()
		if err := e.adjustHolding(ctx, tx, holding, delta, now); err != nil {
			return err
		}

		market.CirculatingSupply = market.CirculatingSupply.Add(delta)
		market.LastUpdated = now
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID:              uuid.New().String(),
			UserID:          userID,
			Type:            kind,
			InstitutionCode: code,
			Amount:          delta.Abs(),
			Fee:             decimal.Zero,
			Price:           market.Price,
			Status:          model.StatusCompleted,
			Note:            note,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		result = SettleResult{TokenBalance: holding.Balance, Price: market.Price}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return &result, nil
}

// adjustHolding applies delta to a holding, guarding the non-negativity
// invariant, and persists the result. The holding struct is updated in
// place so callers can report the final balance.
func (e *Executor) adjustHolding(ctx context.Context, tx store.Tx, h *model.Holding, delta decimal.Decimal, now time.Time) error {
	newBalance := h.Balance.Add(delta)
	if newBalance.IsNegative() {
		return ErrNegativeBalance
	}
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.Balance = newBalance
	h.UpdatedAt = now
	return tx.UpsertHolding(ctx, h)
}

func (e *Executor) checkDailyVolume(ctx context.Context, tx store.Tx, userID string, notional decimal.Decimal, now time.Time) error {
	if !e.limiter.MaxDailyUserVolume.IsPositive() {
		return nil
	}
	dayVolume, err := tx.UserNotionalSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	return e.limiter.CheckDailyVolume(notional, dayVolume)
}

// lockMarketsOrdered locks a set of market rows in lexical institution-code
// order, the global order that prevents swap deadlocks.
func lockMarketsOrdered(ctx context.Context, tx store.Tx, codes ...string) (map[string]*model.Market, error) {
	sorted := append([]string(nil), codes...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	markets := make(map[string]*model.Market, len(sorted))
	for _, code := range sorted {
		m, err := tx.MarketForUpdate(ctx, code)
		if err != nil {
			return nil, err
		}
		markets[code] = m
	}
	return markets, nil
}

// translateStoreErr maps store sentinels to the executor's error taxonomy.
func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		return ErrMarketNotFound
	case errors.Is(err, store.ErrWalletNotFound):
		return ErrWalletNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrConcurrencyConflict
	default:
		return err
	}
}
