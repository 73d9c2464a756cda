// Package inventory is the ledger of option capacity.  It is the only
// code that reads or writes the pending and committed counters; every
// other component goes through TryHold, Commit and Release inside a
// storage transaction.
package inventory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// Ledger tracks capacity and holds per option.
type Ledger struct {
	store repository.Reader
	log   *zap.Logger
}

// NewLedger returns a ledger.  store is only used for read-only
// availability lookups; mutations use the transaction passed in.
func NewLedger(store repository.Reader, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log}
}

// CreateOption validates and stores a new option with empty counters.
func (l *Ledger) CreateOption(ctx context.Context, tx repository.Tx, opt *model.Option) error {
	switch {
	case opt.Name == "":
		return fmt.Errorf("name is required: %w", model.ErrInvalidOption)
	case opt.Capacity < 0:
		return fmt.Errorf("capacity must not be negative: %w", model.ErrInvalidOption)
	case opt.UnitPrice < 0:
		return fmt.Errorf("unit price must not be negative: %w", model.ErrInvalidOption)
	case opt.ValidFrom != nil && opt.ValidUntil != nil && opt.ValidUntil.Before(*opt.ValidFrom):
		return fmt.Errorf("validity window is inverted: %w", model.ErrInvalidOption)
	}
	if err := tx.InsertOption(ctx, opt); err != nil {
		return fmt.Errorf("insert option: %w", err)
	}
	l.log.Info("option created", zap.Uint64("option_id", opt.ID), zap.Int("capacity", opt.Capacity))
	return nil
}

// TryHold locks the option row, checks that quantity more units fit
// within capacity and, if so, records a pending hold.  It must run in
// the same transaction that creates the booking owning the hold.
func (l *Ledger) TryHold(ctx context.Context, tx repository.Tx, optionID uint64, quantity int, now time.Time) (*model.Hold, error) {
	if quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	opt, err := tx.LockOption(ctx, optionID)
	if err != nil {
		return nil, err
	}
	if !opt.ValidAt(now) {
		return nil, model.ErrOptionExpired
	}
	if opt.Committed+opt.Pending+quantity > opt.Capacity {
		l.log.Debug("hold refused",
			zap.Uint64("option_id", optionID),
			zap.Int("requested", quantity),
			zap.Int("available", opt.Available()))
		return nil, model.ErrInsufficientCapacity
	}
	token, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate hold token: %w", err)
	}
	hold := &model.Hold{
		Token:    token,
		OptionID: optionID,
		Quantity: quantity,
		State:    model.HoldPending,
	}
	if err := tx.InsertHold(ctx, hold); err != nil {
		return nil, fmt.Errorf("insert hold: %w", err)
	}
	if err := tx.UpdateOptionCounters(ctx, optionID, opt.Pending+quantity, opt.Committed); err != nil {
		return nil, fmt.Errorf("update option counters: %w", err)
	}
	return hold, nil
}

// Attach links a hold to the booking created for it.
func (l *Ledger) Attach(ctx context.Context, tx repository.Tx, hold *model.Hold, bookingID uint64) error {
	hold.BookingID = bookingID
	return tx.UpdateHold(ctx, hold)
}

// Commit moves a pending hold to committed.  Committing a hold that is
// already committed is a no-op.  A released hold cannot be committed.
func (l *Ledger) Commit(ctx context.Context, tx repository.Tx, token string) error {
	hold, opt, err := l.lock(ctx, tx, token)
	if err != nil {
		return err
	}
	switch hold.State {
	case model.HoldCommitted:
		return nil
	case model.HoldReleased:
		return fmt.Errorf("commit released hold: %w", model.ErrInvalidTransition)
	}
	hold.State = model.HoldCommitted
	if err := tx.UpdateHold(ctx, hold); err != nil {
		return err
	}
	return tx.UpdateOptionCounters(ctx, opt.ID, opt.Pending-hold.Quantity, opt.Committed+hold.Quantity)
}

// Release returns the capacity of a pending or committed hold to the
// pool.  Releasing a released hold is a no-op.
func (l *Ledger) Release(ctx context.Context, tx repository.Tx, token string) error {
	hold, opt, err := l.lock(ctx, tx, token)
	if err != nil {
		return err
	}
	pending, committed := opt.Pending, opt.Committed
	switch hold.State {
	case model.HoldReleased:
		return nil
	case model.HoldPending:
		pending -= hold.Quantity
	case model.HoldCommitted:
		committed -= hold.Quantity
	}
	hold.State = model.HoldReleased
	if err := tx.UpdateHold(ctx, hold); err != nil {
		return err
	}
	return tx.UpdateOptionCounters(ctx, opt.ID, pending, committed)
}

// Available returns the units of an option that can still be held.
func (l *Ledger) Available(ctx context.Context, optionID uint64) (*model.Option, int, error) {
	opt, err := l.store.GetOption(ctx, optionID)
	if err != nil {
		return nil, 0, err
	}
	return opt, opt.Available(), nil
}

// lock takes the hold row and then its option row.  Callers in this
// package lock nothing else, which keeps the option lock last.
func (l *Ledger) lock(ctx context.Context, tx repository.Tx, token string) (*model.Hold, *model.Option, error) {
	hold, err := tx.LockHold(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	opt, err := tx.LockOption(ctx, hold.OptionID)
	if err != nil {
		return nil, nil, err
	}
	return hold, opt, nil
}

// randomToken generates a random hexadecimal string of length n*2.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
