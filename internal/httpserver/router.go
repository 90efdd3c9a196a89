package httpserver

import (
	"net/http"

	"lv-papertrade/internal/accounts"
	"lv-papertrade/internal/health"
	"lv-papertrade/internal/orders"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type RouterDeps struct {
	AccountsHandler *accounts.Handler
	OrderHandler    *orders.Handler
	HealthHandler   *health.Handler
	EventsWSHandler http.Handler
	RateLimiter     *IPRateLimiter
	Origin          string
	Log             logrus.FieldLogger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(d.Log))
	r.Use(CORS(d.Origin))
	r.Use(SecurityHeaders)

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/metrics", d.HealthHandler.Metrics)

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		r.Get("/account", d.AccountsHandler.Get)
		r.Get("/price", d.OrderHandler.Price)
		r.Get("/orders", d.OrderHandler.History)
		r.Get("/orders/{id}", d.OrderHandler.Get)
		r.Post("/trade", d.OrderHandler.Trade)
		r.Post("/close", d.OrderHandler.Close)
		if d.EventsWSHandler != nil {
			r.Get("/ws", d.EventsWSHandler.ServeHTTP)
		}
	})
	return r
}
