package model

import (
	"time"

	"lv-papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// AccountID is the primary key of the singleton account row.
const AccountID = 1

// DecimalPlaces is the scale of every stored amount, price and balance
// (numeric(38,18) in Postgres).
const DecimalPlaces = 18

// FitsScale reports whether v is representable at DecimalPlaces without
// rounding.
func FitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(DecimalPlaces))
}

type Account struct {
	CashBalance  decimal.Decimal `json:"cash_balance"`
	AssetBalance decimal.Decimal `json:"asset_balance"`
}

type TradeOrder struct {
	ID         int64             `json:"id"`
	Side       types.OrderSide   `json:"type"`
	Amount     decimal.Decimal   `json:"amount"`
	OpenPrice  decimal.Decimal   `json:"price"`
	Status     types.OrderStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ClosedAt   *time.Time        `json:"closed_at"`
	ClosePrice *decimal.Decimal  `json:"close_price,omitempty"`
}

func (o TradeOrder) IsOpen() bool {
	return o.Status == types.OrderStatusOpen
}
