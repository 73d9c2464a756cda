package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

const bookingColumns = `id, option_id, quantity, buyer_id, contact_name, contact_phone, contact_email,
	unit_price, hold_token, order_id, status, expires_at, created_at, updated_at`

func scanBooking(row interface{ Scan(...interface{}) error }) (*model.Booking, error) {
	var b model.Booking
	var orderID sql.NullInt64
	if err := row.Scan(&b.ID, &b.OptionID, &b.Quantity, &b.BuyerID,
		&b.Contact.Name, &b.Contact.Phone, &b.Contact.Email,
		&b.UnitPriceAtBooking, &b.HoldToken, &orderID, &b.Status,
		&b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if orderID.Valid {
		id := uint64(orderID.Int64)
		b.OrderID = &id
	}
	b.ExpiresAt = b.ExpiresAt.UTC()
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]model.Booking, error) {
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBooking loads a booking without locking.
func (r queries) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := scanBooking(r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, model.ErrBookingNotFound)
	}
	return b, nil
}

// ListBookingsByBuyer returns all bookings of a buyer, newest first.
func (r queries) ListBookingsByBuyer(ctx context.Context, buyerID uint64) ([]model.Booking, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE buyer_id = ? ORDER BY created_at DESC, id DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListExpiredHeldBookings returns held bookings past their deadline.
// The sweep re-checks each one under lock, so a stale read here is
// harmless.
func (r queries) ListExpiredHeldBookings(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at, id LIMIT ?`,
		model.BookingHeld, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// InsertBooking creates a booking and sets the generated ID on b.
func (t *sqlTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	now := time.Now().UTC()
	var orderID sql.NullInt64
	if b.OrderID != nil {
		orderID = sql.NullInt64{Int64: int64(*b.OrderID), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO bookings (option_id, quantity, buyer_id, contact_name, contact_phone, contact_email,
		                       unit_price, hold_token, order_id, status, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.OptionID, b.Quantity, b.BuyerID, b.Contact.Name, b.Contact.Phone, b.Contact.Email,
		b.UnitPriceAtBooking, b.HoldToken, orderID, b.Status, b.ExpiresAt.UTC(), now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

// LockBooking loads a booking and locks its row.
func (t *sqlTx) LockBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, model.ErrBookingNotFound)
	}
	return b, nil
}

// UpdateBooking writes the mutable fields of a locked booking.
func (t *sqlTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	now := time.Now().UTC()
	var orderID sql.NullInt64
	if b.OrderID != nil {
		orderID = sql.NullInt64{Int64: int64(*b.OrderID), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET order_id = ?, status = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		orderID, b.Status, b.ExpiresAt.UTC(), now, b.ID)
	if err == nil {
		b.UpdatedAt = now
	}
	return err
}
