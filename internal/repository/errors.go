package repository

import "errors"

// Domain errors. Transport layers translate these to status codes; the
// engine resolves some of them (DuplicateOrder, InvalidTransition on a
// terminal order) to no-op successes instead of surfacing them.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrInvalidTransition = errors.New("order is already terminal")
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrInvalidOrderID    = errors.New("order id is required")
	ErrAmountOverflow    = errors.New("credit would overflow balance")
	ErrDuplicateAccount  = errors.New("account already exists")
)
