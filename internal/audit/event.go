// Package audit records trade lifecycle events off the request path.
// Recording is best-effort: a failed or dropped event never affects the
// trade that produced it.
package audit

import (
	"context"
	"time"

	"lv-papertrade/internal/model"
	"lv-papertrade/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is one audit record. Create events carry the order's side, amount,
// open price and status; close events carry the close price.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	OrderID    int64             `json:"order_id"`
	Action     types.AuditAction `json:"action"`
	Side       types.OrderSide   `json:"type,omitempty"`
	Amount     *decimal.Decimal  `json:"amount,omitempty"`
	Price      *decimal.Decimal  `json:"price,omitempty"`
	Status     types.OrderStatus `json:"status,omitempty"`
	ClosePrice *decimal.Decimal  `json:"close_price,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func NewCreateEvent(o model.TradeOrder) Event {
	amount, price := o.Amount, o.OpenPrice
	return Event{
		ID:        uuid.New(),
		OrderID:   o.ID,
		Action:    types.AuditActionCreate,
		Side:      o.Side,
		Amount:    &amount,
		Price:     &price,
		Status:    o.Status,
		Timestamp: o.CreatedAt,
	}
}

func NewCloseEvent(o model.TradeOrder) Event {
	ts := time.Now().UTC()
	if o.ClosedAt != nil {
		ts = *o.ClosedAt
	}
	return Event{
		ID:         uuid.New(),
		OrderID:    o.ID,
		Action:     types.AuditActionClose,
		ClosePrice: o.ClosePrice,
		Timestamp:  ts,
	}
}

type Sink interface {
	RecordEvent(ctx context.Context, evt Event) error
}
