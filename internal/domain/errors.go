package domain

import (
	"github.com/pkg/errors"
)

var (
	ErrEmptyCart                 = errors.New("cart is empty")
	ErrUnsupportedCheckoutSource = errors.New("checkout source not implemented")
	ErrCouponNotFound            = errors.New("coupon not found")
	ErrCouponInvalid             = errors.New("coupon is not valid for this cart")
	ErrAddressNotFound           = errors.New("shipping address not found")
	ErrWalletNotFound            = errors.New("wallet not found")
	ErrWalletInactive            = errors.New("wallet is inactive")
	ErrInsufficientBalance       = errors.New("insufficient wallet balance")
	ErrUnsupportedPaymentMethod  = errors.New("unsupported payment method")
	ErrOrderNotFound             = errors.New("order not found")

	// ErrConcurrentModification means a coupon limit or wallet balance moved
	// between check and commit. Callers may re-price and retry once.
	ErrConcurrentModification = errors.New("concurrent modification, retry checkout")

	// ErrPersistence wraps any unexpected storage failure. The commit has been
	// rolled back when this is returned.
	ErrPersistence = errors.New("persistence failure")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyRefunded   = errors.New("payment already refunded")
	ErrNothingToRefund   = errors.New("payment was never captured")

	ErrInvalidCoupon      = errors.New("invalid coupon")
	ErrCouponExpired      = errors.New("coupon has expired")
	ErrCouponLimitReached = errors.New("coupon usage limit reached")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// CouponInvalidError carries the reason a coupon was rejected for a cart.
type CouponInvalidError struct {
	Code    string
	Reason  CouponRejection
	Message string
}

func (e *CouponInvalidError) Error() string {
	return "coupon " + e.Code + ": " + e.Message
}

func (e *CouponInvalidError) Is(target error) bool {
	return target == ErrCouponInvalid
}

// IsRetriable reports whether the caller should re-fetch pricing and retry.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// PersistenceError wraps an unexpected storage failure. It matches
// ErrPersistence and unwraps to the driver error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
