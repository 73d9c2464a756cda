package model

import "time"

// Option is a sellable, capacity-bounded unit such as a camp spot type
// on a given night or a rental slot.  Capacity is fixed when the option
// is created; bookings never change it.  Pending and Committed are the
// ledger counters and are only ever written by the inventory package.
//
// Fields:
//  ID         – primary key identifier.
//  Name       – display name shown to buyers.
//  Capacity   – total units that can ever be held or sold.
//  UnitPrice  – price per unit in whole TWD.
//  ValidFrom  – first instant the option may be held (nullable).
//  ValidUntil – last instant the option may be held (nullable).
//  Pending    – units held by bookings awaiting payment.
//  Committed  – units sold to confirmed bookings.
type Option struct {
	ID         uint64     // options.id
	Name       string     // options.name
	Capacity   int        // options.capacity
	UnitPrice  int64      // options.unit_price
	ValidFrom  *time.Time // options.valid_from (nullable)
	ValidUntil *time.Time // options.valid_until (nullable)
	Pending    int        // options.pending
	Committed  int        // options.committed
	CreatedAt  time.Time  // options.created_at
	UpdatedAt  time.Time  // options.updated_at
}

// Available returns the number of units that can still be held.
func (o Option) Available() int {
	n := o.Capacity - o.Pending - o.Committed
	if n < 0 {
		return 0
	}
	return n
}

// ValidAt reports whether the option's validity window contains t.
// A nil bound is open on that side.
func (o Option) ValidAt(t time.Time) bool {
	if o.ValidFrom != nil && t.Before(*o.ValidFrom) {
		return false
	}
	if o.ValidUntil != nil && t.After(*o.ValidUntil) {
		return false
	}
	return true
}
