package service

import (
	"errors"
	"fmt"

	"checkout-service/internal/repository"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidTotal        = errors.New("order total must be positive")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrCouponExhausted     = errors.New("coupon redemptions exhausted")
	ErrCouponIneligible    = errors.New("coupon not applicable")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrDuplicateRedemption = errors.New("coupon already redeemed for this order")
	ErrConcurrentUpdate    = errors.New("record changed concurrently")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAvailability Kind = "availability"
	KindCoupon       Kind = "coupon"
	KindState        Kind = "state"
	KindConsistency  Kind = "consistency"
	KindNotFound     Kind = "not_found"
)

// Error is the typed failure returned by every service operation. Errors that
// are not *Error are infrastructure failures.
type Error struct {
	Kind      Kind
	Err       error
	ProductID string
	LineID    string
	Field     string
	Message   string
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product %s)", msg, e.ProductID)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Err: ErrInvalidInput, Field: field, Message: fmt.Sprintf("%s %s", field, message)}
}

func availabilityError(err error, productID, message string) *Error {
	return &Error{Kind: KindAvailability, Err: err, ProductID: productID, Message: message}
}

func couponError(err error, message string) *Error {
	return &Error{Kind: KindCoupon, Err: err, Message: message}
}

func stateError(message string) *Error {
	return &Error{Kind: KindState, Err: ErrInvalidTransition, Message: message}
}

func notFoundError(what, id string) *Error {
	return &Error{Kind: KindNotFound, Err: ErrNotFound, Message: fmt.Sprintf("%s %s", what, id)}
}

func consistencyError(err error, message string) *Error {
	return &Error{Kind: KindConsistency, Err: err, Message: message}
}

// contentionError types lock conflicts that outlived the store's retries so
// they reach the caller as a retryable consistency error, never a raw driver
// error.
func contentionError(err error) error {
	if errors.Is(err, repository.ErrTransient) {
		return consistencyError(ErrConcurrentUpdate, "concurrent transactions collided, retry the request")
	}
	return err
}

// KindOf returns the kind of a service error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

// IsCouponError reports whether err is a coupon rejection.
func IsCouponError(err error) bool {
	return KindOf(err) == KindCoupon
}
