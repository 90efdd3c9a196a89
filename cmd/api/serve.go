package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lv-papertrade/internal/accounts"
	"lv-papertrade/internal/audit"
	"lv-papertrade/internal/config"
	"lv-papertrade/internal/health"
	"lv-papertrade/internal/history"
	"lv-papertrade/internal/httpserver"
	"lv-papertrade/internal/marketdata"
	"lv-papertrade/internal/orders"
	"lv-papertrade/internal/settlement"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg, log)
	},
}

func serve(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	store, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	healthHandler := health.NewHandler(startedAt).Require("ledger", store)

	snapshots, closeSnapshots, err := openSnapshotStore(cfg, log, healthHandler)
	if err != nil {
		return err
	}
	defer closeSnapshots()
	cache := history.NewCache(snapshots, store, cfg.HistoryTTL, log)

	bus := marketdata.NewBus()
	dispatcher, stopAudit, err := startAudit(ctx, cfg, bus, log)
	if err != nil {
		return err
	}
	defer stopAudit()

	oracle := marketdata.NewCoinDeskClient(marketdata.ClientConfig{
		URL:        cfg.PriceURL,
		Instrument: cfg.PriceInstrument,
		Timeout:    cfg.PriceTimeout,
		RateLimit:  cfg.PriceRateLimit,
	}, log)
	settler := settlement.NewSettler(store, log)
	orderSvc := orders.NewService(store, settler, oracle, cache, dispatcher, log)
	accountSvc := accounts.NewService(store, cfg.InitialCash, cfg.InitialAsset, log)
	if _, err := accountSvc.EnsureAccount(ctx); err != nil {
		return errors.Wrap(err, "initialize account")
	}

	ticker := marketdata.NewPriceTicker(oracle, bus, cfg.PriceTick, log)
	go ticker.Run(ctx)
	limiter := httpserver.NewIPRateLimiter(10, 30)
	go limiter.RunPruner(ctx)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AccountsHandler: accounts.NewHandler(accountSvc),
		OrderHandler:    orders.NewHandler(orderSvc),
		HealthHandler:   healthHandler,
		EventsWSHandler: marketdata.NewEventsWS(bus, ticker, cfg.WebSocketOrigin, log),
		RateLimiter:     limiter,
		Origin:          cfg.WebSocketOrigin,
		Log:             log,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":   cfg.HTTPAddr,
			"ledger": cfg.LedgerDriver,
			"audit":  cfg.AuditSink,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case listenErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if listenErr != nil {
		return errors.Wrap(listenErr, "listen")
	}
	return nil
}

// openSnapshotStore picks Redis when configured and the in-process map
// otherwise. Redis is observed rather than required since the history
// cache falls back to the ledger.
func openSnapshotStore(cfg config.Config, log logrus.FieldLogger, h *health.Handler) (history.SnapshotStore, func(), error) {
	if cfg.RedisAddr == "" {
		return history.NewMemoryStore(), func() {}, nil
	}
	rs, err := history.NewRedisStore(history.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	h.Observe("redis", rs)
	return rs, func() {
		if err := rs.Close(); err != nil {
			log.WithError(err).Warn("close redis")
		}
	}, nil
}

// startAudit builds the configured sink behind a dispatcher. The returned
// stop drains queued events before the sink is closed and must run on every
// exit path once startAudit succeeds.
func startAudit(ctx context.Context, cfg config.Config, bus *marketdata.Bus, log logrus.FieldLogger) (*audit.Dispatcher, func(), error) {
	sink, closeSink, err := openAuditSink(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	dispatcherCfg := audit.DefaultDispatcherConfig()
	dispatcherCfg.QueueSize = cfg.AuditQueueSize
	dispatcher := audit.NewDispatcher(audit.Multi{sink, audit.NewBusSink(bus)}, dispatcherCfg, log)
	stop := func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			log.WithError(err).Warn("audit queue not drained")
		}
		closeSink()
	}
	return dispatcher, stop, nil
}

func openAuditSink(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (audit.Sink, func(), error) {
	switch cfg.AuditSink {
	case config.AuditSinkBadger:
		bs, err := audit.OpenBadgerSink(cfg.AuditBadgerDir, log)
		if err != nil {
			return nil, nil, err
		}
		return bs, func() {
			if err := bs.Close(); err != nil {
				log.WithError(err).Warn("close audit badger")
			}
		}, nil
	case config.AuditSinkSNS:
		ss, err := audit.NewSNSSinkFromEnv(ctx, cfg.AuditSNSTopic, log)
		if err != nil {
			return nil, nil, err
		}
		return ss, func() {}, nil
	default:
		return audit.NewLogSink(log), func() {}, nil
	}
}
