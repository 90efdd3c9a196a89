// Package ledger is the durable store for the singleton account and its
// trade orders. The account row is only ever mutated through
// UpdateAccountBalances inside a transaction that has locked it.
package ledger

import (
	"context"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/model"
	"lv-papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// Tx is the unit of work handed to WithTx. Everything done through it
// commits or rolls back together.
type Tx interface {
	// LockAccount reads the account row and holds it exclusively until the
	// transaction ends. Fails with apperr.ErrAccountNotInitialized.
	LockAccount(ctx context.Context) (model.Account, error)
	// UpdateAccountBalances adds the deltas and refuses to drive either
	// balance below zero.
	UpdateAccountBalances(ctx context.Context, cashDelta, assetDelta decimal.Decimal) (model.Account, error)
	CreateOrder(ctx context.Context, side types.OrderSide, amount, price decimal.Decimal) (model.TradeOrder, error)
	// GetOpenOrderForUpdate returns nil when the order is absent or closed.
	GetOpenOrderForUpdate(ctx context.Context, id int64) (*model.TradeOrder, error)
	// CloseOrder returns nil when the order is absent or already closed.
	CloseOrder(ctx context.Context, id int64, closePrice decimal.Decimal) (*model.TradeOrder, error)
}

type Store interface {
	// GetAccount returns nil when the account has not been created yet.
	GetAccount(ctx context.Context) (*model.Account, error)
	// CreateAccount inserts the account row if missing and returns the
	// stored row either way.
	CreateAccount(ctx context.Context, cash, asset decimal.Decimal) (model.Account, error)
	UpdateAccountBalances(ctx context.Context, cashDelta, assetDelta decimal.Decimal) (model.Account, error)
	CreateOrder(ctx context.Context, side types.OrderSide, amount, price decimal.Decimal) (model.TradeOrder, error)
	GetOrderByID(ctx context.Context, id int64) (*model.TradeOrder, error)
	GetOpenOrderByID(ctx context.Context, id int64) (*model.TradeOrder, error)
	CloseOrder(ctx context.Context, id int64, closePrice decimal.Decimal) (*model.TradeOrder, error)
	// GetAllOrders returns every order ordered by creation time.
	GetAllOrders(ctx context.Context) ([]model.TradeOrder, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// applyDeltas is the storage-level guard shared by every adapter.
func applyDeltas(acc model.Account, cashDelta, assetDelta decimal.Decimal) (model.Account, error) {
	next := model.Account{
		CashBalance:  acc.CashBalance.Add(cashDelta),
		AssetBalance: acc.AssetBalance.Add(assetDelta),
	}
	if next.CashBalance.IsNegative() {
		return acc, apperr.ErrInsufficientFunds
	}
	if next.AssetBalance.IsNegative() {
		return acc, apperr.ErrInsufficientAsset
	}
	return next, nil
}

func withTx[T any](ctx context.Context, s Store, fn func(tx Tx) (T, error)) (T, error) {
	var out T
	err := s.WithTx(ctx, func(tx Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
