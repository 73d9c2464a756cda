package model

import "time"

// HoldState is the lifecycle of a single capacity reservation against
// an option.
type HoldState string

const (
	HoldPending   HoldState = "PENDING"
	HoldCommitted HoldState = "COMMITTED"
	HoldReleased  HoldState = "RELEASED"
)

// Hold is the explicit reservation row behind a booking.  The sum of
// quantities of PENDING and COMMITTED holds for an option always equals
// the option's Pending+Committed counters and never exceeds capacity.
//
// Fields:
//  Token     – opaque 64 character hex token referencing the hold.
//  OptionID  – option whose capacity is consumed.
//  BookingID – booking that owns the hold (zero until the booking row exists).
//  Quantity  – units consumed.
//  State     – PENDING, COMMITTED or RELEASED.
type Hold struct {
	Token     string    // inventory_holds.token
	OptionID  uint64    // inventory_holds.option_id
	BookingID uint64    // inventory_holds.booking_id
	Quantity  int       // inventory_holds.quantity
	State     HoldState // inventory_holds.state
	CreatedAt time.Time // inventory_holds.created_at
	UpdatedAt time.Time // inventory_holds.updated_at
}
