package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidPayment     ErrorKind = "invalid_payment"
	KindInvalidCartItem    ErrorKind = "invalid_cart_item"
	KindInsufficientStock  ErrorKind = "insufficient_stock"
	KindShiftNotActive     ErrorKind = "shift_not_active"
	KindShiftAlreadyActive ErrorKind = "shift_already_active"
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindNothingToClose     ErrorKind = "nothing_to_close"
	KindTransient          ErrorKind = "transient"
	KindConflict           ErrorKind = "conflict"
	KindNotFound           ErrorKind = "not_found"
)

// Error carries a kind from the settlement taxonomy and a message fit for the seller.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInsufficientStock)
// holds for every insufficient-stock error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidPayment     = &Error{Kind: KindInvalidPayment, Message: "invalid payment"}
	ErrInvalidCartItem    = &Error{Kind: KindInvalidCartItem, Message: "invalid cart item"}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrShiftNotActive     = &Error{Kind: KindShiftNotActive, Message: "no active shift"}
	ErrShiftAlreadyActive = &Error{Kind: KindShiftAlreadyActive, Message: "shift already active"}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrNothingToClose     = &Error{Kind: KindNothingToClose, Message: "nothing to close"}
	ErrTransient          = &Error{Kind: KindTransient, Message: "backend unavailable"}
	ErrConflict           = &Error{Kind: KindConflict, Message: "sale already settled"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
)

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a network, timeout or cancellation failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == KindTransient {
		return err
	}
	return &Error{Kind: KindTransient, Message: "backend unavailable", Err: err}
}

// KindOf returns the taxonomy kind of err, or "" for errors outside it.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
