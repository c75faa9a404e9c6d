package exchange

import "errors"

// Every mutating operation rejects synchronously with one of these; nothing is
// retried internally and a rejected operation leaves no state behind.
var (
	// ErrInsufficientBalance is returned when a withdrawal or a fill would
	// drive an exchange-custodied balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransferFailed is returned when the custody transfer-in backing a
	// deposit does not succeed (unknown token, missing allowance, short
	// upstream balance).
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrOrderNotFound is returned for an order id that was never assigned.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotOrderOwner is returned when someone other than the creator tries
	// to cancel an order.
	ErrNotOrderOwner = errors.New("not order owner")

	// ErrOrderCancelled is returned when the order is already in the
	// cancelled set.
	ErrOrderCancelled = errors.New("order cancelled")

	// ErrOrderAlreadyFilled is returned when the order is already in the
	// filled set.
	ErrOrderAlreadyFilled = errors.New("order already filled")

	// ErrNotAdministrator is returned when a non-admin tries to change the
	// fee configuration.
	ErrNotAdministrator = errors.New("not administrator")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidFeePercent is returned for a fee percent outside [0, 100].
	ErrInvalidFeePercent = errors.New("fee percent out of range")
)
