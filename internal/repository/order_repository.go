package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

const orderColumns = `id, reference, buyer_id, total_amount, payment_method, payment_status, order_status,
	gateway_transaction_id, initiated_at, cancel_reason, review_required, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*model.Order, error) {
	var o model.Order
	var gatewayTx sql.NullString
	var initiatedAt sql.NullTime
	var reason sql.NullString
	if err := row.Scan(&o.ID, &o.Reference, &o.BuyerID, &o.TotalAmount, &o.PaymentMethod,
		&o.PaymentStatus, &o.OrderStatus, &gatewayTx, &initiatedAt, &reason,
		&o.ReviewRequired, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if gatewayTx.Valid {
		s := gatewayTx.String
		o.GatewayTransactionID = &s
	}
	if initiatedAt.Valid {
		t := initiatedAt.Time.UTC()
		o.InitiatedAt = &t
	}
	if reason.Valid {
		o.CancelReason = model.CancelReason(reason.String)
	}
	return &o, nil
}

// loadBookingIDs fills o.BookingIDs from order_bookings in cart order.
func (r queries) loadBookingIDs(ctx context.Context, o *model.Order) error {
	rows, err := r.q.QueryContext(ctx,
		`SELECT booking_id FROM order_bookings WHERE order_id = ? ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	o.BookingIDs = ids
	return nil
}

func (r queries) getOrderWhere(ctx context.Context, where string, arg interface{}) (*model.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return nil, notFound(err, model.ErrOrderNotFound)
	}
	if err := r.loadBookingIDs(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder loads an order and its booking IDs without locking.
func (r queries) GetOrder(ctx context.Context, id uint64) (*model.Order, error) {
	return r.getOrderWhere(ctx, `id = ?`, id)
}

// GetOrderByReference resolves a merchant trade number to its order.
func (r queries) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	return r.getOrderWhere(ctx, `reference = ?`, reference)
}

// InsertOrder stores a new order and its booking links.
func (t *sqlTx) InsertOrder(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (reference, buyer_id, total_amount, payment_method, payment_status, order_status,
		                     gateway_transaction_id, initiated_at, cancel_reason, review_required, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Reference, o.BuyerID, o.TotalAmount, o.PaymentMethod, o.PaymentStatus, o.OrderStatus,
		nullString(o.GatewayTransactionID), nullTime(o.InitiatedAt), string(o.CancelReason), o.ReviewRequired, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	o.CreatedAt, o.UpdatedAt = now, now
	if len(o.BookingIDs) == 0 {
		return nil
	}
	query := `INSERT INTO order_bookings (order_id, booking_id, position) VALUES `
	args := make([]interface{}, 0, len(o.BookingIDs)*3)
	for i, bid := range o.BookingIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, o.ID, bid, i)
	}
	_, err = t.tx.ExecContext(ctx, query, args...)
	return err
}

// LockOrder loads an order and locks its row.  Finalize calls for the
// same order serialize on this lock.
func (t *sqlTx) LockOrder(ctx context.Context, id uint64) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, model.ErrOrderNotFound)
	}
	if err := t.loadBookingIDs(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateOrder writes the mutable fields of a locked order.  Booking
// links never change after creation.
func (t *sqlTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET payment_status = ?, order_status = ?, gateway_transaction_id = ?, initiated_at = ?,
		                   cancel_reason = ?, review_required = ?, updated_at = ?
		 WHERE id = ?`,
		o.PaymentStatus, o.OrderStatus, nullString(o.GatewayTransactionID), nullTime(o.InitiatedAt),
		string(o.CancelReason), o.ReviewRequired, now, o.ID)
	if err == nil {
		o.UpdatedAt = now
	}
	return err
}
