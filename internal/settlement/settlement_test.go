package settlement

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/ledger"
	"lv-papertrade/internal/logging"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSettler(t testing.TB, dir, cash, asset string) (*Settler, ledger.Store) {
	store, err := ledger.OpenSQLite(context.Background(), filepath.Join(dir, "ledger.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.CreateAccount(context.Background(), d(cash), d(asset))
	require.NoError(t, err)
	return NewSettler(store, logging.Discard()), store
}

func TestApplyOpenBuyAndSell(t *testing.T) {
	ctx := context.Background()
	s, _ := newSettler(t, t.TempDir(), "10000", "0.5")

	acc, err := s.ApplyOpenBuy(ctx, d("0.1"), d("50000"))
	require.NoError(t, err)
	assert.Equal(t, "5000", acc.CashBalance.String())
	assert.Equal(t, "0.6", acc.AssetBalance.String())

	acc, err = s.ApplyOpenSell(ctx, d("0.2"), d("50000"))
	require.NoError(t, err)
	assert.Equal(t, "15000", acc.CashBalance.String())
	assert.Equal(t, "0.4", acc.AssetBalance.String())
}

func TestCloseMirrorsOpposite(t *testing.T) {
	ctx := context.Background()
	s, _ := newSettler(t, t.TempDir(), "1000", "1")

	acc, err := s.ApplyCloseBuy(ctx, d("0.5"), d("100"))
	require.NoError(t, err)
	assert.Equal(t, "1050", acc.CashBalance.String())
	assert.Equal(t, "0.5", acc.AssetBalance.String())

	acc, err = s.ApplyCloseSell(ctx, d("0.5"), d("100"))
	require.NoError(t, err)
	assert.Equal(t, "1000", acc.CashBalance.String())
	assert.Equal(t, "1", acc.AssetBalance.String())
}

func TestDeclinedLeavesAccountUnchanged(t *testing.T) {
	ctx := context.Background()
	s, store := newSettler(t, t.TempDir(), "100", "0.1")

	_, err := s.ApplyOpenBuy(ctx, d("1"), d("100.01"))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds))

	_, err = s.ApplyOpenSell(ctx, d("0.11"), d("1"))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientAsset))

	_, err = s.ApplyCloseBuy(ctx, d("0.2"), d("1"))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientAsset))

	_, err = s.ApplyCloseSell(ctx, d("1"), d("101"))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds))

	acc, err := store.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", acc.CashBalance.String())
	assert.Equal(t, "0.1", acc.AssetBalance.String())
}

func TestBuyExactlyAffordable(t *testing.T) {
	ctx := context.Background()
	s, _ := newSettler(t, t.TempDir(), "100", "0")

	require.NoError(t, s.CheckBuyFeasible(ctx, d("100")))
	acc, err := s.ApplyOpenBuy(ctx, d("2"), d("50"))
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.IsZero())
	assert.Equal(t, "2", acc.AssetBalance.String())
}

func TestFeasibilityChecks(t *testing.T) {
	ctx := context.Background()
	s, _ := newSettler(t, t.TempDir(), "100", "0.5")

	assert.NoError(t, s.CheckBuyFeasible(ctx, d("99.99")))
	assert.True(t, errors.Is(s.CheckBuyFeasible(ctx, d("100.01")), apperr.ErrInsufficientFunds))
	assert.NoError(t, s.CheckSellFeasible(ctx, d("0.5")))
	assert.True(t, errors.Is(s.CheckSellFeasible(ctx, d("0.51")), apperr.ErrInsufficientAsset))
}

func TestUninitializedAccount(t *testing.T) {
	ctx := context.Background()
	store, err := ledger.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"), logging.Discard())
	require.NoError(t, err)
	defer store.Close()
	s := NewSettler(store, logging.Discard())

	_, err = s.ApplyOpenBuy(ctx, d("1"), d("1"))
	assert.True(t, errors.Is(err, apperr.ErrAccountNotInitialized))
	assert.True(t, errors.Is(s.CheckSellFeasible(ctx, d("1")), apperr.ErrAccountNotInitialized))
}

func TestApplyRejectsNonPositiveInputs(t *testing.T) {
	ctx := context.Background()
	s, _ := newSettler(t, t.TempDir(), "100", "1")

	_, err := s.ApplyOpenBuy(ctx, decimal.Zero, d("1"))
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
	_, err = s.ApplyOpenSell(ctx, d("1"), d("-1"))
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
}

func TestApplyRejectsAmountFinerThanLedgerScale(t *testing.T) {
	ctx := context.Background()
	s, store := newSettler(t, t.TempDir(), "100000", "2")

	for _, amount := range []string{"1.0000000000000000004", "0.0000000000000000001"} {
		_, err := s.ApplyOpenBuy(ctx, d(amount), d("50000"))
		assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err), amount)
	}
	acc, err := store.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100000", acc.CashBalance.String())
	assert.Equal(t, "2", acc.AssetBalance.String())
}

func TestTradeValueRoundedToLedgerScale(t *testing.T) {
	ctx := context.Background()
	s, _ := newSettler(t, t.TempDir(), "1000", "1")
	amount, price := d("0.123456789012345678"), d("3.3333")

	cash, asset := Delta(OpenBuy, amount, price)
	assert.GreaterOrEqual(t, cash.Exponent(), int32(-18))
	assert.True(t, cash.Equal(amount.Mul(price).Round(18).Neg()))
	assert.True(t, asset.Equal(amount))

	acc, err := s.ApplyOpenBuy(ctx, amount, price)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.Equal(d("1000").Add(cash)))

	acc, err = s.ApplyCloseBuy(ctx, amount, price)
	require.NoError(t, err)
	assert.Equal(t, "1000", acc.CashBalance.String())
	assert.Equal(t, "1", acc.AssetBalance.String())
}

func TestConcurrentBuysNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s, store := newSettler(t, t.TempDir(), "100", "0")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyOpenBuy(ctx, d("1"), d("100"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, declined int
	for err := range results {
		if err == nil {
			ok++
		} else if errors.Is(err, apperr.ErrInsufficientFunds) {
			declined++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, declined)

	acc, err := store.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.IsZero())
	assert.Equal(t, "1", acc.AssetBalance.String())
}

func TestKindMapping(t *testing.T) {
	k, err := OpenKind(types.OrderSideBuy)
	require.NoError(t, err)
	assert.Equal(t, OpenBuy, k)
	k, err = CloseKind(types.OrderSideSell)
	require.NoError(t, err)
	assert.Equal(t, CloseSell, k)
	_, err = OpenKind("hold")
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))

	cash, asset := Delta(CloseBuy, d("2"), d("10"))
	assert.Equal(t, "20", cash.String())
	assert.Equal(t, "-2", asset.String())
}

func genAmount(t *rapid.T, label string) decimal.Decimal {
	// up to 4 decimal places, strictly positive
	return decimal.New(rapid.Int64Range(1, 5_000_000).Draw(t, label), -4)
}

func TestPropertyBalancesStayNonNegative(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		runs++
		store, err := ledger.OpenSQLite(ctx, filepath.Join(dir, "prop-"+strconv.Itoa(runs)+".db"), logging.Discard())
		if err != nil {
			rt.Fatalf("open: %v", err)
		}
		defer store.Close()
		cash := genAmount(rt, "cash")
		asset := genAmount(rt, "asset")
		if _, err := store.CreateAccount(ctx, cash, asset); err != nil {
			rt.Fatalf("create: %v", err)
		}
		s := NewSettler(store, logging.Discard())

		steps := rapid.IntRange(1, 15).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			kind := Kind(rapid.IntRange(int(OpenBuy), int(CloseSell)).Draw(rt, "kind"))
			amount := genAmount(rt, "amount")
			price := genAmount(rt, "price")
			before, _ := store.GetAccount(ctx)

			acc, err := s.applyStandalone(ctx, kind, amount, price)
			after, _ := store.GetAccount(ctx)
			if after.CashBalance.IsNegative() || after.AssetBalance.IsNegative() {
				rt.Fatalf("negative balance after %s: %s / %s", kind, after.CashBalance, after.AssetBalance)
			}
			if err != nil {
				if !apperr.Declined(err) {
					rt.Fatalf("unexpected error: %v", err)
				}
				if !after.CashBalance.Equal(before.CashBalance) || !after.AssetBalance.Equal(before.AssetBalance) {
					rt.Fatalf("declined %s changed the account", kind)
				}
				continue
			}
			wantCash, wantAsset := Delta(kind, amount, price)
			if !acc.CashBalance.Equal(before.CashBalance.Add(wantCash)) || !acc.AssetBalance.Equal(before.AssetBalance.Add(wantAsset)) {
				rt.Fatalf("%s applied wrong delta", kind)
			}
		}
	})
}

func TestPropertyOpenThenCloseAtSamePriceRestoresBalances(t *testing.T) {
	dir := t.TempDir()
	runs := 0
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		runs++
		store, err := ledger.OpenSQLite(ctx, filepath.Join(dir, "rt-"+strconv.Itoa(runs)+".db"), logging.Discard())
		if err != nil {
			rt.Fatalf("open: %v", err)
		}
		defer store.Close()
		start, err := store.CreateAccount(ctx, genAmount(rt, "cash"), genAmount(rt, "asset"))
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		s := NewSettler(store, logging.Discard())

		side := rapid.SampledFrom([]types.OrderSide{types.OrderSideBuy, types.OrderSideSell}).Draw(rt, "side")
		amount := genAmount(rt, "amount")
		price := genAmount(rt, "price")
		openKind, _ := OpenKind(side)
		closeKind, _ := CloseKind(side)

		if _, err := s.applyStandalone(ctx, openKind, amount, price); err != nil {
			if apperr.Declined(err) {
				return
			}
			rt.Fatalf("open: %v", err)
		}
		end, err := s.applyStandalone(ctx, closeKind, amount, price)
		if err != nil {
			rt.Fatalf("close after open must succeed: %v", err)
		}
		if !end.CashBalance.Equal(start.CashBalance) || !end.AssetBalance.Equal(start.AssetBalance) {
			rt.Fatalf("round trip drifted: %s/%s -> %s/%s", start.CashBalance, start.AssetBalance, end.CashBalance, end.AssetBalance)
		}
	})
}
