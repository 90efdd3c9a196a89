package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PriceQuote is the payload of "price" events.
type PriceQuote struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"ts"`
}

// PriceTicker polls the oracle and publishes each successful reading on
// the bus. Trades never read from it; every trade fetches its own price.
type PriceTicker struct {
	oracle   Oracle
	bus      *Bus
	interval time.Duration
	log      logrus.FieldLogger

	mu   sync.RWMutex
	last *PriceQuote
}

func NewPriceTicker(oracle Oracle, bus *Bus, interval time.Duration, log logrus.FieldLogger) *PriceTicker {
	return &PriceTicker{oracle: oracle, bus: bus, interval: interval, log: log.WithField("component", "price-ticker")}
}

// Run blocks until ctx is done. Ticks are skipped while nobody is
// subscribed.
func (p *PriceTicker) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.bus.Subscribers() == 0 {
				continue
			}
			p.tick(ctx)
		}
	}
}

func (p *PriceTicker) tick(ctx context.Context) {
	price, err := p.oracle.FetchPrice(ctx)
	if err != nil {
		p.log.WithError(err).Debug("skipping price tick")
		return
	}
	q := PriceQuote{Price: price, Timestamp: time.Now().UTC().UnixMilli()}
	p.mu.Lock()
	p.last = &q
	p.mu.Unlock()
	p.bus.Publish(Event{Type: "price", Data: q})
}

// Last returns the most recent published quote, if any.
func (p *PriceTicker) Last() (PriceQuote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return PriceQuote{}, false
	}
	return *p.last, true
}
