// Package booking owns the lifecycle of booking lines: creating them
// against the inventory ledger and moving them between held, confirmed,
// cancelled and expired.
package booking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/inventory"
	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// DefaultHoldTTL is used when Options.HoldTTL is unset.
const DefaultHoldTTL = 15 * time.Minute

// Options configures a Service.
type Options struct {
	HoldTTL time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
}

// Service is the booking aggregate.
type Service struct {
	store   repository.Store
	ledger  *inventory.Ledger
	holdTTL time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewService wires a booking service to its store and ledger.
func NewService(store repository.Store, ledger *inventory.Ledger, opts Options) *Service {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = DefaultHoldTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		ledger:  ledger,
		holdTTL: opts.HoldTTL,
		now:     opts.Now,
		log:     opts.Logger,
	}
}

// CreateInput is a buyer's request for quantity units of an option.
type CreateInput struct {
	OptionID uint64
	Quantity int
	BuyerID  uint64
	Contact  model.Contact
}

// Create takes a hold on the option and records a held booking in one
// transaction.  On any error nothing is stored and no capacity is
// consumed.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Booking, error) {
	var out *model.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now().UTC()
		hold, err := s.ledger.TryHold(ctx, tx, in.OptionID, in.Quantity, now)
		if err != nil {
			return err
		}
		opt, err := tx.GetOption(ctx, in.OptionID)
		if err != nil {
			return err
		}
		b := &model.Booking{
			OptionID:           in.OptionID,
			Quantity:           in.Quantity,
			BuyerID:            in.BuyerID,
			Contact:            in.Contact,
			UnitPriceAtBooking: opt.UnitPrice,
			HoldToken:          hold.Token,
			Status:             model.BookingHeld,
			ExpiresAt:          now.Add(s.holdTTL),
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if err := s.ledger.Attach(ctx, tx, hold, b.ID); err != nil {
			return fmt.Errorf("attach hold: %w", err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("booking held",
		zap.Uint64("booking_id", out.ID),
		zap.Uint64("option_id", out.OptionID),
		zap.Int("quantity", out.Quantity),
		zap.Time("expires_at", out.ExpiresAt))
	return out, nil
}

// Cancel is the buyer abandoning a booking.  A booking that belongs to
// an order is cancelled through the order instead.
func (s *Service) Cancel(ctx context.Context, bookingID, buyerID uint64) (*model.Booking, error) {
	return s.mutate(ctx, bookingID, func(ctx context.Context, tx repository.Tx, b *model.Booking) error {
		if b.BuyerID != buyerID {
			return model.ErrForbidden
		}
		if b.Status == model.BookingCancelled {
			return nil
		}
		if b.OrderID != nil && b.Status.Active() {
			return model.ErrBookingInOrder
		}
		return s.ApplyTx(ctx, tx, b, model.BookingCancelled, model.ReasonBuyer)
	})
}

// Confirm moves a standalone held booking to confirmed and commits its
// hold.  Bookings inside an order are confirmed when the order is paid.
func (s *Service) Confirm(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	return s.mutate(ctx, bookingID, func(ctx context.Context, tx repository.Tx, b *model.Booking) error {
		if b.Status == model.BookingConfirmed {
			return nil
		}
		if b.OrderID != nil {
			return model.ErrBookingInOrder
		}
		return s.ApplyTx(ctx, tx, b, model.BookingConfirmed, model.ReasonPayment)
	})
}

// Expire releases a standalone held booking whose deadline has passed.
// A booking that is not yet due is returned unchanged, so a deadline
// extended after the sweep listed it is respected.
func (s *Service) Expire(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	return s.mutate(ctx, bookingID, func(ctx context.Context, tx repository.Tx, b *model.Booking) error {
		if b.Status == model.BookingExpired {
			return nil
		}
		if b.OrderID != nil {
			return model.ErrBookingInOrder
		}
		if b.Status == model.BookingHeld && b.ExpiresAt.After(s.now()) {
			return nil
		}
		return s.ApplyTx(ctx, tx, b, model.BookingExpired, model.ReasonTimeout)
	})
}

// Get returns a booking owned by buyerID.
func (s *Service) Get(ctx context.Context, bookingID, buyerID uint64) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.BuyerID != buyerID {
		return nil, model.ErrForbidden
	}
	return b, nil
}

// ListByBuyer returns the buyer's bookings, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID uint64) ([]model.Booking, error) {
	return s.store.ListBookingsByBuyer(ctx, buyerID)
}

// ApplyTx moves a locked booking to status to, committing or releasing
// its hold and writing an audit entry.  Moving a booking to the status
// it already has is a no-op.  It is the only place booking status
// changes.
func (s *Service) ApplyTx(ctx context.Context, tx repository.Tx, b *model.Booking, to model.BookingStatus, reason model.AuditReason) error {
	if b.Status == to {
		return nil
	}
	if !b.Status.CanTransition(to) {
		return fmt.Errorf("booking %d %s -> %s: %w", b.ID, b.Status, to, model.ErrInvalidTransition)
	}
	var err error
	if to == model.BookingConfirmed {
		err = s.ledger.Commit(ctx, tx, b.HoldToken)
	} else {
		err = s.ledger.Release(ctx, tx, b.HoldToken)
	}
	if err != nil {
		return err
	}
	from := b.Status
	b.Status = to
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return tx.InsertAudit(ctx, &model.AuditEvent{
		Entity:     model.AuditBooking,
		EntityID:   b.ID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Reason:     reason,
	})
}

func (s *Service) mutate(ctx context.Context, bookingID uint64, fn func(ctx context.Context, tx repository.Tx, b *model.Booking) error) (*model.Booking, error) {
	var out *model.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
