// Package repository defines the storage session the booking engine runs
// on and its MySQL implementation.  Every mutation of options, holds,
// bookings, orders and callbacks happens inside Store.InTx; rows that
// are about to change are read with the Lock* methods, which take a
// row-level lock (SELECT ... FOR UPDATE) for the rest of the
// transaction.
//
// To avoid deadlocks, callers lock in a fixed order: order, then
// bookings by ascending ID, then options by ascending ID.
package repository

import (
	"context"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// Reader holds the non-locking lookups available both on the store and
// inside a transaction.  Missing rows are reported with the model's
// not-found sentinels.
type Reader interface {
	GetOption(ctx context.Context, id uint64) (*model.Option, error)
	GetHold(ctx context.Context, token string) (*model.Hold, error)
	GetBooking(ctx context.Context, id uint64) (*model.Booking, error)
	ListBookingsByBuyer(ctx context.Context, buyerID uint64) ([]model.Booking, error)
	// ListExpiredHeldBookings returns up to limit HELD bookings whose
	// expires_at is at or before now, oldest first.
	ListExpiredHeldBookings(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	GetOrder(ctx context.Context, id uint64) (*model.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*model.Order, error)
	ListAuditEvents(ctx context.Context, entity model.AuditEntity, entityID uint64) ([]model.AuditEvent, error)
}

// Tx is one storage transaction.  It is only valid inside the function
// passed to Store.InTx.
type Tx interface {
	Reader

	InsertOption(ctx context.Context, o *model.Option) error
	LockOption(ctx context.Context, id uint64) (*model.Option, error)
	UpdateOptionCounters(ctx context.Context, id uint64, pending, committed int) error

	InsertHold(ctx context.Context, h *model.Hold) error
	LockHold(ctx context.Context, token string) (*model.Hold, error)
	UpdateHold(ctx context.Context, h *model.Hold) error

	InsertBooking(ctx context.Context, b *model.Booking) error
	LockBooking(ctx context.Context, id uint64) (*model.Booking, error)
	UpdateBooking(ctx context.Context, b *model.Booking) error

	// InsertOrder stores the order and its ordered booking links.
	InsertOrder(ctx context.Context, o *model.Order) error
	LockOrder(ctx context.Context, id uint64) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error

	// InsertCallback stores an idempotency record.  It returns false,
	// without error, when a record with the same gateway transaction id
	// and event type already exists.
	InsertCallback(ctx context.Context, cb *model.GatewayCallback) (bool, error)

	InsertAudit(ctx context.Context, ev *model.AuditEvent) error
}

// Store is the injected storage session capability.  InTx runs fn in a
// transaction, committing when fn returns nil and rolling back otherwise.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
