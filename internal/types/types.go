package types

import "strings"

type OrderSide string

type OrderStatus string

type AuditAction string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderStatusOpen   OrderStatus = "open"
	OrderStatusClosed OrderStatus = "closed"
)

const (
	AuditActionCreate AuditAction = "create"
	AuditActionClose  AuditAction = "close"
)

// ParseOrderSide accepts "buy"/"sell" in any case and surrounding whitespace.
func ParseOrderSide(raw string) (OrderSide, bool) {
	side := OrderSide(strings.ToLower(strings.TrimSpace(raw)))
	if !side.Valid() {
		return "", false
	}
	return side, true
}

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (s OrderStatus) Valid() bool {
	return s == OrderStatusOpen || s == OrderStatusClosed
}
