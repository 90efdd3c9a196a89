package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/logging"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	assert.Nil(t, acc)

	_, err = s.UpdateAccountBalances(ctx, decimal.NewFromInt(1), decimal.Zero)
	assert.True(t, errors.Is(err, apperr.ErrAccountNotInitialized))

	created, err := s.CreateAccount(ctx, decimal.NewFromInt(10000), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.True(t, created.CashBalance.Equal(decimal.NewFromInt(10000)))
	assert.True(t, created.AssetBalance.Equal(decimal.RequireFromString("0.5")))

	// second create keeps the stored row
	again, err := s.CreateAccount(ctx, decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, again.CashBalance.Equal(decimal.NewFromInt(10000)))

	updated, err := s.UpdateAccountBalances(ctx, decimal.NewFromInt(-2500), decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	assert.Equal(t, "7500", updated.CashBalance.String())
	assert.Equal(t, "0.55", updated.AssetBalance.String())
}

func TestSQLiteUpdateRefusesNegativeBalances(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	_, err := s.CreateAccount(ctx, decimal.NewFromInt(100), decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = s.UpdateAccountBalances(ctx, decimal.NewFromInt(-101), decimal.Zero)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds))

	_, err = s.UpdateAccountBalances(ctx, decimal.Zero, decimal.RequireFromString("-1.0001"))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientAsset))

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.Equal(decimal.NewFromInt(100)))
	assert.True(t, acc.AssetBalance.Equal(decimal.NewFromInt(1)))

	// draining to exactly zero is allowed
	acc2, err := s.UpdateAccountBalances(ctx, decimal.NewFromInt(-100), decimal.NewFromInt(-1))
	require.NoError(t, err)
	assert.True(t, acc2.CashBalance.IsZero())
	assert.True(t, acc2.AssetBalance.IsZero())
}

func TestSQLiteOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	first, err := s.CreateOrder(ctx, types.OrderSideBuy, decimal.RequireFromString("0.1"), decimal.NewFromInt(50000))
	require.NoError(t, err)
	second, err := s.CreateOrder(ctx, types.OrderSideSell, decimal.RequireFromString("0.2"), decimal.NewFromInt(51000))
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, types.OrderStatusOpen, first.Status)
	assert.Nil(t, first.ClosedAt)

	open, err := s.GetOpenOrderByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "0.1", open.Amount.String())

	closed, err := s.CloseOrder(ctx, first.ID, decimal.NewFromInt(52000))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, types.OrderStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.NotNil(t, closed.ClosePrice)
	assert.Equal(t, "52000", closed.ClosePrice.String())
	assert.False(t, closed.ClosedAt.Before(closed.CreatedAt))

	// closing twice is a miss
	again, err := s.CloseOrder(ctx, first.ID, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Nil(t, again)

	open, err = s.GetOpenOrderByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	byID, err := s.GetOrderByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, types.OrderStatusClosed, byID.Status)

	missing, err := s.GetOrderByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := s.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}

func TestSQLiteWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	_, err := s.CreateAccount(ctx, decimal.NewFromInt(100), decimal.Zero)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.UpdateAccountBalances(ctx, decimal.NewFromInt(-50), decimal.NewFromInt(1)); err != nil {
			return err
		}
		if _, err := tx.CreateOrder(ctx, types.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(50)); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.Equal(decimal.NewFromInt(100)))
	all, err := s.GetAllOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

type stubRow []any

func (r stubRow) Scan(dest ...any) error {
	for i, v := range r {
		switch p := dest[i].(type) {
		case *int64:
			*p = v.(int64)
		case *string:
			*p = v.(string)
		case *decimal.Decimal:
			*p = decimal.RequireFromString(v.(string))
		case *sql.NullInt64:
			*p = sql.NullInt64{}
		case *decimal.NullDecimal:
			*p = decimal.NullDecimal{}
		}
	}
	return nil
}

func TestScanOrderRejectsUnknownSideOrStatus(t *testing.T) {
	_, err := scanSQLiteOrder(stubRow{int64(1), "buy", "1", "100", "open", int64(0), nil, nil})
	require.NoError(t, err)

	_, err = scanSQLiteOrder(stubRow{int64(2), "hold", "1", "100", "open", int64(0), nil, nil})
	assert.Error(t, err)
	_, err = scanSQLiteOrder(stubRow{int64(3), "sell", "1", "100", "pending", int64(0), nil, nil})
	assert.Error(t, err)
}
