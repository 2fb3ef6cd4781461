package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindLotMismatch
	KindInsufficientStock
	KindDocumentLocked
	KindInvalidState
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindLotMismatch:
		return "lot_mismatch"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindDocumentLocked:
		return "document_locked"
	case KindInvalidState:
		return "invalid_state"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal_error"
	}
}

// Error is the single failure type surfaced by ledger operations. Item is the
// 1-based position of the offending line, zero when the failure is not tied to
// a line.
type Error struct {
	Kind      ErrorKind
	Item      int
	Field     string
	Shortfall decimal.Decimal
	Message   string
	Err       error
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrLotMismatch       = &Error{Kind: KindLotMismatch}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrDocumentLocked    = &Error{Kind: KindDocumentLocked}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Item > 0 && e.Field != "":
		msg = fmt.Sprintf("item %d (%s): %s", e.Item, e.Field, msg)
	case e.Item > 0:
		msg = fmt.Sprintf("item %d: %s", e.Item, msg)
	case e.Field != "":
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind so callers can test against the
// package-level sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// AtItem returns a copy of e tagged with the given 1-based line position.
func (e *Error) AtItem(item int) *Error {
	cp := *e
	cp.Item = item
	return &cp
}

func Validation(item int, field, message string) *Error {
	return &Error{Kind: KindValidation, Item: item, Field: field, Message: message}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func LotMismatch(item int, message string) *Error {
	return &Error{Kind: KindLotMismatch, Item: item, Field: "lotId", Message: message}
}

func InsufficientStock(item int, productID string, shortfall decimal.Decimal) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Item:      item,
		Shortfall: shortfall,
		Message:   fmt.Sprintf("insufficient stock for product %s, short by %s", productID, shortfall.String()),
	}
}

func DocumentLocked(id string) *Error {
	return &Error{Kind: KindDocumentLocked, Message: fmt.Sprintf("transaction %s is locked by admin", id)}
}

func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// AsError extracts the *Error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return KindInternal
}
