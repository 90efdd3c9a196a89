// Package apperr holds the error taxonomy shared by the trading core and
// its HTTP surface.
package apperr

import (
	"github.com/pkg/errors"
)

type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindInvalidRequest        Kind = "invalid_request"
	KindAccountNotInitialized Kind = "account_not_initialized"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindInsufficientAsset     Kind = "insufficient_asset"
	KindOrderNotFound         Kind = "order_not_found"
	KindPriceUnavailable      Kind = "price_unavailable"
)

var (
	ErrInvalidRequest        = &Error{kind: KindInvalidRequest, msg: "invalid request"}
	ErrAccountNotInitialized = &Error{kind: KindAccountNotInitialized, msg: "account not initialized"}
	ErrInsufficientFunds     = &Error{kind: KindInsufficientFunds, msg: "insufficient cash balance"}
	ErrInsufficientAsset     = &Error{kind: KindInsufficientAsset, msg: "insufficient asset balance"}
	ErrOrderNotFound         = &Error{kind: KindOrderNotFound, msg: "open order not found"}
	ErrPriceUnavailable      = &Error{kind: KindPriceUnavailable, msg: "error fetching live price"}
)

// Error is a sentinel carrying its Kind. Compare with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Kind() Kind { return e.kind }

// KindOf walks the wrap chain and reports the first Kind found.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Declined reports whether err is a business-rule rejection that left the
// ledger untouched.
func Declined(err error) bool {
	k := KindOf(err)
	return k == KindInsufficientFunds || k == KindInsufficientAsset
}

func InvalidRequest(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidRequest, format, args...)
}
