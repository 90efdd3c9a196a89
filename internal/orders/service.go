package orders

import (
	"context"
	"time"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/audit"
	"lv-papertrade/internal/history"
	"lv-papertrade/internal/ledger"
	"lv-papertrade/internal/marketdata"
	"lv-papertrade/internal/model"
	"lv-papertrade/internal/settlement"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type HistoryCache interface {
	GetOrderHistory(ctx context.Context) (history.Snapshot, error)
	Invalidate(ctx context.Context) error
}

type AuditEmitter interface {
	Emit(evt audit.Event) bool
}

type Service struct {
	store   ledger.Store
	settler *settlement.Settler
	oracle  marketdata.Oracle
	history HistoryCache
	audit   AuditEmitter
	log     logrus.FieldLogger
}

func NewService(store ledger.Store, settler *settlement.Settler, oracle marketdata.Oracle, hist HistoryCache, auditor AuditEmitter, log logrus.FieldLogger) *Service {
	return &Service{
		store:   store,
		settler: settler,
		oracle:  oracle,
		history: hist,
		audit:   auditor,
		log:     log.WithField("component", "orders"),
	}
}

type TradeResult struct {
	OrderID   int64           `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Account   model.Account   `json:"account"`
}

type CloseResult struct {
	OrderID    int64             `json:"order_id"`
	Status     types.OrderStatus `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Account    model.Account     `json:"account"`
	ClosePrice decimal.Decimal   `json:"close_price"`
}

type effectKind int

const (
	effectInvalidateHistory effectKind = iota + 1
	effectAudit
)

// Effect is work that runs only after the ledger transaction commits.
type Effect struct {
	kind  effectKind
	event audit.Event
}

func invalidateHistory() Effect { return Effect{kind: effectInvalidateHistory} }

func recordAudit(evt audit.Event) Effect { return Effect{kind: effectAudit, event: evt} }

// CreateTrade opens a position of amount units on side ("buy" or "sell",
// any case) at the live price.
func (s *Service) CreateTrade(ctx context.Context, side string, amount decimal.Decimal) (TradeResult, error) {
	orderSide, ok := types.ParseOrderSide(side)
	if !ok {
		return TradeResult{}, apperr.InvalidRequest("type must be buy or sell")
	}
	if !amount.IsPositive() {
		return TradeResult{}, apperr.InvalidRequest("amount must be positive")
	}
	if !model.FitsScale(amount) {
		return TradeResult{}, apperr.InvalidRequest("amount has more than %d decimal places", model.DecimalPlaces)
	}
	kind, err := settlement.OpenKind(orderSide)
	if err != nil {
		return TradeResult{}, err
	}
	price, err := s.oracle.FetchPrice(ctx)
	if err != nil {
		return TradeResult{}, err
	}

	var (
		order   model.TradeOrder
		acc     model.Account
		effects []Effect
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		acc, err = s.settler.Apply(ctx, tx, kind, amount, price)
		if err != nil {
			return err
		}
		order, err = tx.CreateOrder(ctx, orderSide, amount, price)
		if err != nil {
			return err
		}
		effects = []Effect{invalidateHistory(), recordAudit(audit.NewCreateEvent(order))}
		return nil
	})
	if err != nil {
		return TradeResult{}, errors.Wrapf(err, "open %s %s", orderSide, amount)
	}
	s.runEffects(ctx, effects)

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"type":     orderSide,
		"amount":   amount.String(),
		"price":    price.String(),
	}).Info("trade opened")
	return TradeResult{OrderID: order.ID, Price: price, Timestamp: order.CreatedAt, Account: acc}, nil
}

// CloseTrade settles the offsetting leg of an open order at the live price
// and marks it closed.
func (s *Service) CloseTrade(ctx context.Context, orderID int64) (CloseResult, error) {
	if orderID <= 0 {
		return CloseResult{}, apperr.ErrOrderNotFound
	}
	price, err := s.oracle.FetchPrice(ctx)
	if err != nil {
		return CloseResult{}, err
	}

	var (
		closed  *model.TradeOrder
		acc     model.Account
		effects []Effect
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		open, err := tx.GetOpenOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if open == nil {
			return apperr.ErrOrderNotFound
		}
		kind, err := settlement.CloseKind(open.Side)
		if err != nil {
			return err
		}
		acc, err = s.settler.Apply(ctx, tx, kind, open.Amount, price)
		if err != nil {
			return err
		}
		closed, err = tx.CloseOrder(ctx, orderID, price)
		if err != nil {
			return err
		}
		if closed == nil {
			return apperr.ErrOrderNotFound
		}
		effects = []Effect{invalidateHistory(), recordAudit(audit.NewCloseEvent(*closed))}
		return nil
	})
	if err != nil {
		return CloseResult{}, errors.Wrapf(err, "close order %d", orderID)
	}
	s.runEffects(ctx, effects)

	s.log.WithFields(logrus.Fields{
		"order_id":    closed.ID,
		"type":        closed.Side,
		"amount":      closed.Amount.String(),
		"close_price": price.String(),
	}).Info("trade closed")
	return CloseResult{
		OrderID:    closed.ID,
		Status:     closed.Status,
		Timestamp:  *closed.ClosedAt,
		Account:    acc,
		ClosePrice: price,
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (model.TradeOrder, error) {
	if id <= 0 {
		return model.TradeOrder{}, apperr.ErrOrderNotFound
	}
	o, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return model.TradeOrder{}, err
	}
	if o == nil {
		return model.TradeOrder{}, apperr.ErrOrderNotFound
	}
	return *o, nil
}

func (s *Service) GetOrderHistory(ctx context.Context) (history.Snapshot, error) {
	return s.history.GetOrderHistory(ctx)
}

func (s *Service) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	return s.oracle.FetchPrice(ctx)
}

// runEffects never fails: the trade is already committed.
func (s *Service) runEffects(ctx context.Context, effects []Effect) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range effects {
		switch e.kind {
		case effectInvalidateHistory:
			if err := s.history.Invalidate(ctx); err != nil {
				s.log.WithError(err).Warn("history invalidation failed, entry will expire")
			}
		case effectAudit:
			s.audit.Emit(e.event)
		}
	}
}
