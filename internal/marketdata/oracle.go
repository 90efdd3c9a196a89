// Package marketdata fetches the live reference price and fans trade and
// price events out to websocket subscribers.
package marketdata

import (
	"context"
	"net/http"
	"time"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Oracle returns the current price of one unit of the asset in cash.
// Every failure is reported as apperr.ErrPriceUnavailable.
type Oracle interface {
	FetchPrice(ctx context.Context) (decimal.Decimal, error)
}

type ClientConfig struct {
	URL        string
	Instrument string
	Timeout    time.Duration
	// RateLimit is the sustained request rate per second.
	RateLimit float64
}

func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		URL:        "https://data-api.coindesk.com/index/cc/v1/latest/tick?market=cadli&instruments=BTC-USD",
		Instrument: "BTC-USD",
		Timeout:    10 * time.Second,
		RateLimit:  5,
	}
}

var _ Oracle = (*CoinDeskClient)(nil)

// CoinDeskClient reads the latest tick from the CoinDesk index API.
type CoinDeskClient struct {
	cfg     ClientConfig
	http    *resty.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

type tickResponse struct {
	Data map[string]struct {
		Value decimal.Decimal `json:"VALUE"`
	} `json:"Data"`
}

func NewCoinDeskClient(cfg ClientConfig, log logrus.FieldLogger) *CoinDeskClient {
	def := ClientConfigDefaults()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Instrument == "" {
		cfg.Instrument = def.Instrument
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &CoinDeskClient{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		log:     log.WithField("component", "price-oracle"),
	}
}

func (c *CoinDeskClient) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	price, err := c.fetch(ctx)
	if err != nil {
		c.log.WithError(err).Warn("price fetch failed")
		return decimal.Zero, errors.Wrap(apperr.ErrPriceUnavailable, err.Error())
	}
	return price, nil
}

func (c *CoinDeskClient) fetch(ctx context.Context) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, errors.Wrap(err, "rate limit")
	}
	var body tickResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(c.cfg.URL)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "request")
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, errors.Errorf("unexpected status %d", resp.StatusCode())
	}
	tick, ok := body.Data[c.cfg.Instrument]
	if !ok {
		return decimal.Zero, errors.Errorf("instrument %s missing from response", c.cfg.Instrument)
	}
	price := tick.Value.Round(model.DecimalPlaces)
	if !price.IsPositive() {
		return decimal.Zero, errors.Errorf("non-positive price %s", tick.Value)
	}
	return price, nil
}
