package accounts

import (
	"context"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/ledger"
	"lv-papertrade/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Service struct {
	store        ledger.Store
	initialCash  decimal.Decimal
	initialAsset decimal.Decimal
	log          logrus.FieldLogger
}

func NewService(store ledger.Store, initialCash, initialAsset decimal.Decimal, log logrus.FieldLogger) *Service {
	return &Service{
		store:        store,
		initialCash:  initialCash,
		initialAsset: initialAsset,
		log:          log.WithField("component", "accounts"),
	}
}

func (s *Service) GetAccount(ctx context.Context) (model.Account, error) {
	acc, err := s.store.GetAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	if acc == nil {
		return model.Account{}, apperr.ErrAccountNotInitialized
	}
	return *acc, nil
}

// EnsureAccount creates the account with the starting allocation unless it
// already exists. An existing account keeps its balances.
func (s *Service) EnsureAccount(ctx context.Context) (model.Account, error) {
	existing, err := s.store.GetAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	acc, err := s.store.CreateAccount(ctx, s.initialCash, s.initialAsset)
	if err != nil {
		return model.Account{}, errors.Wrap(err, "initialize account")
	}
	s.log.WithFields(logrus.Fields{
		"cash_balance":  acc.CashBalance.String(),
		"asset_balance": acc.AssetBalance.String(),
	}).Info("account initialized")
	return acc, nil
}
