package booking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// OrderExpirer expires a pending order and every booking in it.
type OrderExpirer interface {
	ExpireOrder(ctx context.Context, orderID uint64) (*model.Order, error)
}

// Sweeper periodically expires held bookings past their deadline so
// abandoned carts give their capacity back.
type Sweeper struct {
	store    repository.Reader
	bookings *Service
	orders   OrderExpirer
	interval time.Duration
	batch    int
	log      *zap.Logger
}

// NewSweeper returns a sweeper that checks every interval and handles at
// most batch bookings per tick.
func NewSweeper(store repository.Reader, bookings *Service, orders OrderExpirer, interval time.Duration, batch int, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		bookings: bookings,
		orders:   orders,
		interval: interval,
		batch:    batch,
		log:      log,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many bookings it expired,
// counting every booking of an expired order.
func (s *Sweeper) Sweep(ctx context.Context) int {
	due, err := s.store.ListExpiredHeldBookings(ctx, s.bookings.now().UTC(), s.batch)
	if err != nil {
		s.log.Error("list expired bookings", zap.Error(err))
		return 0
	}
	expired := 0
	seen := make(map[uint64]bool)
	for _, b := range due {
		if b.OrderID != nil {
			if seen[*b.OrderID] {
				continue
			}
			seen[*b.OrderID] = true
			o, err := s.orders.ExpireOrder(ctx, *b.OrderID)
			if err != nil {
				s.log.Error("expire order", zap.Uint64("order_id", *b.OrderID), zap.Error(err))
				continue
			}
			if o.CancelReason == model.CancelExpired {
				expired += len(o.BookingIDs)
			}
			continue
		}
		got, err := s.bookings.Expire(ctx, b.ID)
		switch {
		case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrBookingInOrder):
			// Moved on since it was listed; the next pass sees its new state.
			continue
		case err != nil:
			s.log.Error("expire booking", zap.Uint64("booking_id", b.ID), zap.Error(err))
			continue
		}
		if got.Status == model.BookingExpired {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("expired held bookings", zap.Int("count", expired))
	}
	return expired
}
