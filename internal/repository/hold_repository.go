package repository

import (
	"context"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

const holdColumns = `token, option_id, booking_id, quantity, state, created_at, updated_at`

func scanHold(row interface{ Scan(...interface{}) error }) (*model.Hold, error) {
	var h model.Hold
	if err := row.Scan(&h.Token, &h.OptionID, &h.BookingID, &h.Quantity, &h.State, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetHold loads a hold by token without locking.
func (r queries) GetHold(ctx context.Context, token string) (*model.Hold, error) {
	h, err := scanHold(r.q.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM inventory_holds WHERE token = ?`, token))
	if err != nil {
		return nil, notFound(err, model.ErrHoldNotFound)
	}
	return h, nil
}

// InsertHold stores a new hold row.
func (t *sqlTx) InsertHold(ctx context.Context, h *model.Hold) error {
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO inventory_holds (token, option_id, booking_id, quantity, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.Token, h.OptionID, h.BookingID, h.Quantity, h.State, now, now)
	if err != nil {
		return err
	}
	h.CreatedAt, h.UpdatedAt = now, now
	return nil
}

// LockHold loads a hold and locks its row.
func (t *sqlTx) LockHold(ctx context.Context, token string) (*model.Hold, error) {
	h, err := scanHold(t.tx.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM inventory_holds WHERE token = ? FOR UPDATE`, token))
	if err != nil {
		return nil, notFound(err, model.ErrHoldNotFound)
	}
	return h, nil
}

// UpdateHold writes the booking link and state of a locked hold.
func (t *sqlTx) UpdateHold(ctx context.Context, h *model.Hold) error {
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx,
		`UPDATE inventory_holds SET booking_id = ?, state = ?, updated_at = ? WHERE token = ?`,
		h.BookingID, h.State, now, h.Token)
	if err == nil {
		h.UpdatedAt = now
	}
	return err
}
