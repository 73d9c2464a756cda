package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

var (
	optionCols  = []string{"id", "name", "capacity", "unit_price", "valid_from", "valid_until", "pending", "committed", "created_at", "updated_at"}
	orderCols   = []string{"id", "reference", "buyer_id", "total_amount", "payment_method", "payment_status", "order_status", "gateway_transaction_id", "initiated_at", "cancel_reason", "review_required", "created_at", "updated_at"}
	bookingCols = []string{"id", "option_id", "quantity", "buyer_id", "contact_name", "contact_phone", "contact_email", "unit_price", "hold_token", "order_id", "status", "expires_at", "created_at", "updated_at"}
)

func TestInTxCommitsAndRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, s.InTx(ctx, func(context.Context, Tx) error { return nil }))

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, s.InTx(ctx, func(context.Context, Tx) error { return boom }), boom)

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.Panics(t, func() {
		_ = s.InTx(ctx, func(context.Context, Tx) error { panic("fn panicked") })
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOptionTakesRowLock(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM options WHERE id = \? FOR UPDATE`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(optionCols).AddRow(5, "Riverside pitch", 4, 800, nil, until, 1, 2, now, now))
	mock.ExpectExec(`UPDATE options SET pending = \?, committed = \?, updated_at = \? WHERE id = \?`).
		WithArgs(2, 2, sqlmock.AnyArg(), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		opt, err := tx.LockOption(ctx, 5)
		if err != nil {
			return err
		}
		assert.Nil(t, opt.ValidFrom)
		require.NotNil(t, opt.ValidUntil)
		assert.True(t, until.Equal(*opt.ValidUntil))
		assert.Equal(t, 1, opt.Available())
		return tx.UpdateOptionCounters(ctx, opt.ID, opt.Pending+1, opt.Committed)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOptionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM options WHERE id = \? FOR UPDATE`).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows(optionCols))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.LockOption(ctx, 9)
		return err
	})
	assert.ErrorIs(t, err, model.ErrOptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCallbackDuplicateKey(t *testing.T) {
	s, mock := newMockStore(t)
	cb := func() *model.GatewayCallback {
		return &model.GatewayCallback{GatewayTransactionID: "2607011030001234", EventType: "ecpay.notify.success", OrderID: 3, Outcome: model.OutcomeSuccess}
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO gateway_callbacks`).
		WithArgs("2607011030001234", "ecpay.notify.success", 3, model.OutcomeSuccess, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(`INSERT INTO gateway_callbacks`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uq_callbacks_event'"})
	mock.ExpectExec(`INSERT INTO gateway_callbacks`).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		first := cb()
		inserted, err := tx.InsertCallback(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, uint64(11), first.ID)

		inserted, err = tx.InsertCallback(ctx, cb())
		require.NoError(t, err)
		assert.False(t, inserted)

		_, err = tx.InsertCallback(ctx, cb())
		return err
	})
	var me *mysql.MySQLError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, uint16(1452), me.Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrderScansNullsAndKeepsCartOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \? FOR UPDATE`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(3, "CP260701A1B2C3D4E5F6", 7, 2400, "linepay", "PENDING", "PENDING", nil, nil, nil, false, now, now))
	mock.ExpectQuery(`SELECT booking_id FROM order_bookings WHERE order_id = \? ORDER BY position`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id"}).AddRow(12).AddRow(10).AddRow(11))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, 3)
		if err != nil {
			return err
		}
		assert.Equal(t, []uint64{12, 10, 11}, o.BookingIDs)
		assert.Equal(t, model.PaymentLinePay, o.PaymentMethod)
		assert.Nil(t, o.GatewayTransactionID)
		assert.Nil(t, o.InitiatedAt)
		assert.Empty(t, o.CancelReason)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByReference(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM orders WHERE reference = \?`).
		WithArgs("CP260701A1B2C3D4E5F6").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(3, "CP260701A1B2C3D4E5F6", 7, 2400, "ecpay", "FAILED", "CANCELLED", "2607011030001234", now, "expired", true, now, now))
	mock.ExpectQuery(`FROM order_bookings`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id"}).AddRow(4))
	mock.ExpectQuery(`FROM orders WHERE reference = \?`).
		WithArgs("CP2607010000000000AA").
		WillReturnRows(sqlmock.NewRows(orderCols))

	o, err := s.GetOrderByReference(context.Background(), "CP260701A1B2C3D4E5F6")
	require.NoError(t, err)
	require.NotNil(t, o.GatewayTransactionID)
	assert.Equal(t, "2607011030001234", *o.GatewayTransactionID)
	require.NotNil(t, o.InitiatedAt)
	assert.Equal(t, model.CancelExpired, o.CancelReason)
	assert.True(t, o.ReviewRequired)
	assert.Equal(t, []uint64{4}, o.BookingIDs)

	_, err = s.GetOrderByReference(context.Background(), "CP2607010000000000AA")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrderWritesPositions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(`INSERT INTO order_bookings \(order_id, booking_id, position\) VALUES \(\?, \?, \?\),\(\?, \?, \?\)`).
		WithArgs(21, 12, 0, 21, 10, 1).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	o := &model.Order{
		Reference:     "CP260701A1B2C3D4E5F6",
		BuyerID:       7,
		BookingIDs:    []uint64{12, 10},
		TotalAmount:   1600,
		PaymentMethod: model.PaymentECPay,
		PaymentStatus: model.PaymentPending,
		OrderStatus:   model.OrderPending,
	}
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
	assert.Equal(t, uint64(21), o.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockBookingAndExpiredList(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM bookings\s+WHERE status = \? AND expires_at <= \?\s+ORDER BY expires_at, id LIMIT \?`).
		WithArgs(model.BookingHeld, now, 50).
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(1, 5, 2, 7, "Chen", "0987654321", "", 800, "tok-1", nil, "HELD", now.Add(-time.Minute), now, now).
			AddRow(2, 5, 1, 8, "Lin", "", "", 800, "tok-2", 3, "HELD", now, now, now))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(2, 5, 1, 8, "Lin", "", "", 800, "tok-2", 3, "HELD", now, now, now))
	mock.ExpectCommit()

	due, err := s.ListExpiredHeldBookings(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Nil(t, due[0].OrderID)
	require.NotNil(t, due[1].OrderID)
	assert.Equal(t, uint64(3), *due[1].OrderID)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, 2)
		if err != nil {
			return err
		}
		assert.Equal(t, model.BookingHeld, b.Status)
		return nil
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockHoldTakesRowLock(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM inventory_holds WHERE token = \? FOR UPDATE`).
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "option_id", "booking_id", "quantity", "state", "created_at", "updated_at"}).
			AddRow("tok-1", 5, 1, 2, "PENDING", now, now))
	mock.ExpectExec(`UPDATE inventory_holds SET booking_id = \?, state = \?, updated_at = \? WHERE token = \?`).
		WithArgs(1, model.HoldCommitted, sqlmock.AnyArg(), "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		h, err := tx.LockHold(ctx, "tok-1")
		if err != nil {
			return err
		}
		h.State = model.HoldCommitted
		return tx.UpdateHold(ctx, h)
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
