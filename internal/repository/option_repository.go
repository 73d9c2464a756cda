package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

const optionColumns = `id, name, capacity, unit_price, valid_from, valid_until, pending, committed, created_at, updated_at`

func scanOption(row interface{ Scan(...interface{}) error }) (*model.Option, error) {
	var o model.Option
	var from, until sql.NullTime
	if err := row.Scan(&o.ID, &o.Name, &o.Capacity, &o.UnitPrice, &from, &until,
		&o.Pending, &o.Committed, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if from.Valid {
		t := from.Time.UTC()
		o.ValidFrom = &t
	}
	if until.Valid {
		t := until.Time.UTC()
		o.ValidUntil = &t
	}
	return &o, nil
}

// GetOption loads an option without locking it.
func (r queries) GetOption(ctx context.Context, id uint64) (*model.Option, error) {
	o, err := scanOption(r.q.QueryRowContext(ctx, `SELECT `+optionColumns+` FROM options WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, model.ErrOptionNotFound)
	}
	return o, nil
}

// InsertOption creates an option with zeroed ledger counters and sets
// the generated ID on o.
func (t *sqlTx) InsertOption(ctx context.Context, o *model.Option) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO options (name, capacity, unit_price, valid_from, valid_until, pending, committed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		o.Name, o.Capacity, o.UnitPrice, nullTime(o.ValidFrom), nullTime(o.ValidUntil), now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	o.Pending, o.Committed = 0, 0
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

// LockOption loads an option and holds its row lock until the
// transaction ends.  All capacity checks must go through this.
func (t *sqlTx) LockOption(ctx context.Context, id uint64) (*model.Option, error) {
	o, err := scanOption(t.tx.QueryRowContext(ctx, `SELECT `+optionColumns+` FROM options WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, model.ErrOptionNotFound)
	}
	return o, nil
}

// UpdateOptionCounters writes the ledger counters of a locked option.
func (t *sqlTx) UpdateOptionCounters(ctx context.Context, id uint64, pending, committed int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE options SET pending = ?, committed = ?, updated_at = ? WHERE id = ?`,
		pending, committed, time.Now().UTC(), id)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
