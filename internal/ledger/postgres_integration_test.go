//go:build integration

package ledger_test

import (
	"context"
	"sync"
	"testing"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/ledger"
	"lv-papertrade/internal/logging"
	"lv-papertrade/internal/testutil"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_OrderAndBalanceLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := testutil.StartPostgres(t)
	s := ledger.NewPostgresStore(pool, logging.Discard())

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	require.Nil(t, acc)

	_, err = s.CreateAccount(ctx, decimal.NewFromInt(10000), decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	var orderID int64
	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.LockAccount(ctx); err != nil {
			return err
		}
		if _, err := tx.UpdateAccountBalances(ctx, decimal.NewFromInt(-5000), decimal.RequireFromString("0.1")); err != nil {
			return err
		}
		o, err := tx.CreateOrder(ctx, types.OrderSideBuy, decimal.RequireFromString("0.1"), decimal.NewFromInt(50000))
		orderID = o.ID
		return err
	})
	require.NoError(t, err)

	acc, err = s.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.Equal(decimal.NewFromInt(5000)), acc.CashBalance.String())
	assert.True(t, acc.AssetBalance.Equal(decimal.RequireFromString("0.6")), acc.AssetBalance.String())

	_, err = s.UpdateAccountBalances(ctx, decimal.NewFromInt(-5001), decimal.Zero)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds), "got %v", err)

	closed, err := s.CloseOrder(ctx, orderID, decimal.NewFromInt(52000))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, types.OrderStatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	again, err := s.CloseOrder(ctx, orderID, decimal.NewFromInt(52000))
	require.NoError(t, err)
	assert.Nil(t, again)

	all, err := s.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, orderID, all[0].ID)
}

func TestPostgresStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	pool := testutil.StartPostgres(t)
	s := ledger.NewPostgresStore(pool, logging.Discard())
	_, err := s.CreateAccount(ctx, decimal.NewFromInt(1000), decimal.Zero)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateAccountBalances(ctx, decimal.NewFromInt(-400), decimal.NewFromInt(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds), "unexpected error: %v", err)
	}
	assert.Equal(t, 2, ok)

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.Equal(decimal.NewFromInt(200)), acc.CashBalance.String())
}
