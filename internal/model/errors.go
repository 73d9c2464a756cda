package model

import "errors"

// Capacity and validation errors.  These are expected outcomes of a
// buyer request and are surfaced as a failed result, never retried.
var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrOptionExpired        = errors.New("option expired")
	ErrEmptyCart            = errors.New("empty cart")
	ErrMixedOwner           = errors.New("bookings belong to different buyers")
	ErrUnsupportedMethod    = errors.New("unsupported payment method")
	ErrInvalidOption        = errors.New("invalid option")
)

// State machine errors.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyInitiated  = errors.New("payment already initiated")
	ErrBookingInOrder    = errors.New("booking is attached to an order")
)

// Gateway errors.  A callback failing with one of these is rejected and
// the order is left untouched.
var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrAmountMismatch   = errors.New("amount mismatch")
)

// ErrConflictingOutcome halts automated reconciliation of an order.  It
// means a gateway reported an outcome that contradicts the stored
// terminal state and needs manual resolution.
var ErrConflictingOutcome = errors.New("conflicting payment outcome")

// Lookup and ownership errors.
var (
	ErrOptionNotFound  = errors.New("option not found")
	ErrHoldNotFound    = errors.New("hold not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrForbidden       = errors.New("forbidden")
)
