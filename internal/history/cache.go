// Package history serves the order history through a read-through,
// write-invalidate snapshot cache. The ledger stays the source of truth;
// any cache failure falls back to reading it directly.
package history

import (
	"context"
	"encoding/json"
	"time"

	"lv-papertrade/internal/model"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultKey = "order_history"
	DefaultTTL = 30 * time.Second
)

// SnapshotStore holds serialized snapshots with an expiry.
type SnapshotStore interface {
	// Get reports ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// OrderLister is the slice of the ledger the cache reads from.
type OrderLister interface {
	GetAllOrders(ctx context.Context) ([]model.TradeOrder, error)
}

// Snapshot is one materialized history. Raw is the exact JSON body; two
// reads served from the same cache entry carry identical Raw bytes.
type Snapshot struct {
	Orders    []model.TradeOrder
	Raw       []byte
	FromCache bool
}

type Cache struct {
	store  SnapshotStore
	ledger OrderLister
	key    string
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewCache(store SnapshotStore, ledger OrderLister, ttl time.Duration, log logrus.FieldLogger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  store,
		ledger: ledger,
		key:    DefaultKey,
		ttl:    ttl,
		log:    log.WithField("component", "history"),
	}
}

func (c *Cache) GetOrderHistory(ctx context.Context) (Snapshot, error) {
	raw, ok, err := c.store.Get(ctx, c.key)
	switch {
	case err != nil:
		c.log.WithError(err).Warn("history cache read failed, reading ledger")
	case ok:
		var orders []model.TradeOrder
		decodeErr := json.Unmarshal(raw, &orders)
		if decodeErr == nil {
			return Snapshot{Orders: orders, Raw: raw, FromCache: true}, nil
		}
		c.log.WithError(decodeErr).Warn("history cache entry undecodable, reading ledger")
	}

	orders, err := c.ledger.GetAllOrders(ctx)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load order history")
	}
	if orders == nil {
		orders = []model.TradeOrder{}
	}
	raw, err = json.Marshal(orders)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "encode order history")
	}
	if err := c.store.Set(ctx, c.key, raw, c.ttl); err != nil {
		c.log.WithError(err).Warn("history cache write failed")
	}
	return Snapshot{Orders: orders, Raw: raw}, nil
}

// Invalidate drops the cached snapshot. Callers treat a failure as
// best-effort; the entry still expires after the TTL.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return errors.Wrap(err, "invalidate order history")
	}
	return nil
}
