package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

type recordingExpirer struct {
	calls []uint64
}

func (r *recordingExpirer) ExpireOrder(_ context.Context, orderID uint64) (*model.Order, error) {
	r.calls = append(r.calls, orderID)
	return &model.Order{ID: orderID, CancelReason: model.CancelExpired, BookingIDs: []uint64{1, 2}}, nil
}

func TestSweepExpiresOverdueStandaloneBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	old := f.create(t, 2, 7)
	f.clock.Advance(6 * time.Minute)
	fresh := f.create(t, 1, 8)
	f.clock.Advance(5 * time.Minute)

	orders := &recordingExpirer{}
	sw := NewSweeper(f.store, f.svc, orders, time.Second, 10, nil)
	assert.Equal(t, 1, sw.Sweep(ctx))
	assert.Empty(t, orders.calls)

	got, err := f.store.GetBooking(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingExpired, got.Status)
	got, err = f.store.GetBooking(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingHeld, got.Status)

	pending, _ := f.counters(t)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, sw.Sweep(ctx))
}

func TestSweepHandsOrderBookingsToCoordinatorOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	a := f.create(t, 1, 7)
	b := f.create(t, 1, 7)
	orderID := uint64(42)
	require.NoError(t, f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, id := range []uint64{a.ID, b.ID} {
			locked, err := tx.LockBooking(ctx, id)
			if err != nil {
				return err
			}
			locked.OrderID = &orderID
			if err := tx.UpdateBooking(ctx, locked); err != nil {
				return err
			}
		}
		return nil
	}))
	f.clock.Advance(time.Hour)

	orders := &recordingExpirer{}
	sw := NewSweeper(f.store, f.svc, orders, time.Second, 10, nil)
	assert.Equal(t, 2, sw.Sweep(ctx))
	assert.Equal(t, []uint64{42}, orders.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 1)
	sw := NewSweeper(f.store, f.svc, &recordingExpirer{}, 5*time.Millisecond, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
