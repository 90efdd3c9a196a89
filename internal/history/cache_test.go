package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"lv-papertrade/internal/logging"
	"lv-papertrade/internal/model"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu     sync.Mutex
	orders []model.TradeOrder
	calls  int
	err    error
}

func (f *fakeLedger) GetAllOrders(context.Context) ([]model.TradeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.TradeOrder, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeLedger) add(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, model.TradeOrder{
		ID:        id,
		Side:      types.OrderSideBuy,
		Amount:    decimal.RequireFromString("0.1"),
		OpenPrice: decimal.NewFromInt(50000),
		Status:    types.OrderStatusOpen,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, int(id), 0, time.UTC),
	})
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestReadsWithinTTLAreByteIdentical(t *testing.T) {
	ctx := context.Background()
	led := &fakeLedger{}
	led.add(1)
	c := NewCache(NewMemoryStore(), led, DefaultTTL, logging.Discard())

	first, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// a write that bypasses invalidation is not observed until expiry
	led.add(2)
	second, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Raw, second.Raw)
	assert.Len(t, second.Orders, 1)
	assert.Equal(t, 1, led.calls)
}

func TestInvalidateForcesLedgerRead(t *testing.T) {
	ctx := context.Background()
	led := &fakeLedger{}
	c := NewCache(NewMemoryStore(), led, DefaultTTL, logging.Discard())

	empty, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty.Raw))

	led.add(1)
	require.NoError(t, c.Invalidate(ctx))

	snap, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, int64(1), snap.Orders[0].ID)
	assert.Equal(t, 2, led.calls)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	led := &fakeLedger{}
	c := NewCache(NewMemoryStoreWithClock(clk.now), led, 30*time.Second, logging.Discard())

	_, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)

	clk.t = clk.t.Add(29 * time.Second)
	snap, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.True(t, snap.FromCache)

	clk.t = clk.t.Add(time.Second)
	snap, err = c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
	assert.Equal(t, 2, led.calls)
}

func TestStoreFailureFallsBackToLedger(t *testing.T) {
	ctx := context.Background()
	led := &fakeLedger{}
	led.add(1)
	c := NewCache(failingStore{}, led, DefaultTTL, logging.Discard())

	snap, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	assert.Error(t, c.Invalidate(ctx))
}

func TestUndecodableEntryFallsBackToLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, DefaultKey, []byte("{not json"), time.Minute))
	led := &fakeLedger{}
	led.add(7)
	c := NewCache(store, led, DefaultTTL, logging.Discard())

	snap, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
	require.Len(t, snap.Orders, 1)

	again, err := c.GetOrderHistory(ctx)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, snap.Raw, again.Raw)
}

func TestLedgerErrorPropagates(t *testing.T) {
	led := &fakeLedger{err: errors.New("db down")}
	c := NewCache(NewMemoryStore(), led, DefaultTTL, logging.Discard())
	_, err := c.GetOrderHistory(context.Background())
	assert.Error(t, err)
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{}, logging.Discard())
	assert.Error(t, err)
}
