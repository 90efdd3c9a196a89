// Package settlement applies the cash/asset effect of opening and closing
// trades to the singleton account.
//
// Closing a buy is economically a sell of the held asset and closing a
// sell is a buy-back, so the four operations collapse onto two primitives:
// debit cash/credit asset and credit cash/debit asset. Every application
// locks the account row, checks feasibility against the current balances
// and writes back inside the same ledger transaction.
package settlement

import (
	"context"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/ledger"
	"lv-papertrade/internal/model"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Kind int

const (
	OpenBuy Kind = iota + 1
	OpenSell
	CloseBuy
	CloseSell
)

func (k Kind) String() string {
	switch k {
	case OpenBuy:
		return "open_buy"
	case OpenSell:
		return "open_sell"
	case CloseBuy:
		return "close_buy"
	case CloseSell:
		return "close_sell"
	default:
		return "unknown"
	}
}

// debitsCash reports whether k spends cash to acquire the asset.
func (k Kind) debitsCash() bool {
	return k == OpenBuy || k == CloseSell
}

func OpenKind(side types.OrderSide) (Kind, error) {
	switch side {
	case types.OrderSideBuy:
		return OpenBuy, nil
	case types.OrderSideSell:
		return OpenSell, nil
	}
	return 0, apperr.InvalidRequest("invalid trade type %q", side)
}

func CloseKind(side types.OrderSide) (Kind, error) {
	switch side {
	case types.OrderSideBuy:
		return CloseBuy, nil
	case types.OrderSideSell:
		return CloseSell, nil
	}
	return 0, apperr.InvalidRequest("invalid trade type %q", side)
}

// Delta returns the signed balance change for kind. Cash and asset always
// move in opposite directions.
func Delta(kind Kind, amount, price decimal.Decimal) (cash, asset decimal.Decimal) {
	value := tradeValue(amount, price)
	if kind.debitsCash() {
		return value.Neg(), amount
	}
	return value, amount.Neg()
}

type Settler struct {
	store ledger.Store
	log   logrus.FieldLogger
}

func NewSettler(store ledger.Store, log logrus.FieldLogger) *Settler {
	return &Settler{store: store, log: log.WithField("component", "settlement")}
}

func (s *Settler) CheckBuyFeasible(ctx context.Context, tradeValue decimal.Decimal) error {
	acc, err := s.currentAccount(ctx)
	if err != nil {
		return err
	}
	return checkBuy(acc, tradeValue)
}

func (s *Settler) CheckSellFeasible(ctx context.Context, assetAmount decimal.Decimal) error {
	acc, err := s.currentAccount(ctx)
	if err != nil {
		return err
	}
	return checkSell(acc, assetAmount)
}

func (s *Settler) ApplyOpenBuy(ctx context.Context, amount, price decimal.Decimal) (model.Account, error) {
	return s.applyStandalone(ctx, OpenBuy, amount, price)
}

func (s *Settler) ApplyOpenSell(ctx context.Context, amount, price decimal.Decimal) (model.Account, error) {
	return s.applyStandalone(ctx, OpenSell, amount, price)
}

func (s *Settler) ApplyCloseBuy(ctx context.Context, amount, price decimal.Decimal) (model.Account, error) {
	return s.applyStandalone(ctx, CloseBuy, amount, price)
}

func (s *Settler) ApplyCloseSell(ctx context.Context, amount, price decimal.Decimal) (model.Account, error) {
	return s.applyStandalone(ctx, CloseSell, amount, price)
}

// Apply settles kind inside tx. On any error the account is left as it was
// when the transaction began, provided the caller rolls tx back.
func (s *Settler) Apply(ctx context.Context, tx ledger.Tx, kind Kind, amount, price decimal.Decimal) (model.Account, error) {
	if !amount.IsPositive() {
		return model.Account{}, apperr.InvalidRequest("amount must be positive")
	}
	if !model.FitsScale(amount) {
		return model.Account{}, apperr.InvalidRequest("amount has more than %d decimal places", model.DecimalPlaces)
	}
	if !price.IsPositive() {
		return model.Account{}, apperr.InvalidRequest("price must be positive")
	}
	acc, err := tx.LockAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	var next model.Account
	switch kind {
	case OpenBuy, CloseSell:
		next, err = debitCashCreditAsset(ctx, tx, acc, amount, price)
	case OpenSell, CloseBuy:
		next, err = creditCashDebitAsset(ctx, tx, acc, amount, price)
	default:
		return acc, errors.Errorf("unknown settlement kind %d", kind)
	}
	if err != nil {
		if apperr.Declined(err) {
			s.log.WithFields(logrus.Fields{
				"kind":   kind.String(),
				"amount": amount.String(),
				"price":  price.String(),
				"cash":   acc.CashBalance.String(),
				"asset":  acc.AssetBalance.String(),
			}).Info("settlement declined")
		}
		return acc, err
	}
	return next, nil
}

func (s *Settler) applyStandalone(ctx context.Context, kind Kind, amount, price decimal.Decimal) (model.Account, error) {
	var out model.Account
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		acc, err := s.Apply(ctx, tx, kind, amount, price)
		if err != nil {
			return err
		}
		out = acc
		return nil
	})
	return out, err
}

func (s *Settler) currentAccount(ctx context.Context) (model.Account, error) {
	acc, err := s.store.GetAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	if acc == nil {
		return model.Account{}, apperr.ErrAccountNotInitialized
	}
	return *acc, nil
}

func debitCashCreditAsset(ctx context.Context, tx ledger.Tx, acc model.Account, amount, price decimal.Decimal) (model.Account, error) {
	value := tradeValue(amount, price)
	if err := checkBuy(acc, value); err != nil {
		return acc, err
	}
	return tx.UpdateAccountBalances(ctx, value.Neg(), amount)
}

func creditCashDebitAsset(ctx context.Context, tx ledger.Tx, acc model.Account, amount, price decimal.Decimal) (model.Account, error) {
	if err := checkSell(acc, amount); err != nil {
		return acc, err
	}
	return tx.UpdateAccountBalances(ctx, tradeValue(amount, price), amount.Neg())
}

// tradeValue is amount*price at ledger scale. Opening and closing at the
// same price round identically, so the pair nets to zero.
func tradeValue(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Round(model.DecimalPlaces)
}

func checkBuy(acc model.Account, tradeValue decimal.Decimal) error {
	if acc.CashBalance.LessThan(tradeValue) {
		return apperr.ErrInsufficientFunds
	}
	return nil
}

func checkSell(acc model.Account, assetAmount decimal.Decimal) error {
	if acc.AssetBalance.LessThan(assetAmount) {
		return apperr.ErrInsufficientAsset
	}
	return nil
}
