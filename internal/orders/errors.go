package orders

import "errors"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOrderNotFound     = errors.New("order not found")
	ErrAmountMismatch    = errors.New("paid amount below order total")

	// ErrAlreadyFulfilled is the success-shaped replay outcome: the order was
	// fulfilled by an earlier delivery of the same notification.
	ErrAlreadyFulfilled = errors.New("already fulfilled")
)
