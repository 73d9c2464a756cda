// Package memory is an in-process implementation of repository.Store.
// Transactions are serialized by a single mutex and rolled back by
// restoring a snapshot, which gives every transaction the isolation the
// MySQL store gets from row locks.  It backs the test suites and the
// STORE_DRIVER=memory development mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

type callbackKey struct {
	txID      string
	eventType string
}

type state struct {
	options    map[uint64]model.Option
	holds      map[string]model.Hold
	bookings   map[uint64]model.Booking
	orders     map[uint64]model.Order
	references map[string]uint64
	callbacks  map[callbackKey]model.GatewayCallback
	audit      []model.AuditEvent
	seq        uint64
}

func newState() *state {
	return &state{
		options:    make(map[uint64]model.Option),
		holds:      make(map[string]model.Hold),
		bookings:   make(map[uint64]model.Booking),
		orders:     make(map[uint64]model.Order),
		references: make(map[string]uint64),
		callbacks:  make(map[callbackKey]model.GatewayCallback),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.options {
		c.options[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	for k, v := range s.callbacks {
		c.callbacks[k] = v
	}
	c.audit = append([]model.AuditEvent(nil), s.audit...)
	c.seq = s.seq
	return c
}

func (s *state) nextID() uint64 {
	s.seq++
	return s.seq
}

// Store is a concurrency-safe in-memory repository.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn while holding the store lock.  If fn fails or panics the
// store is restored to its state before the transaction began.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	defer func() {
		if r := recover(); r != nil {
			s.st = snapshot
			panic(r)
		}
		if err != nil {
			s.st = snapshot
		}
	}()
	return fn(ctx, &tx{st: s.st})
}

func (s *Store) read() *tx {
	return &tx{st: s.st}
}

func (s *Store) GetOption(ctx context.Context, id uint64) (*model.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetOption(ctx, id)
}

func (s *Store) GetHold(ctx context.Context, token string) (*model.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetHold(ctx, token)
}

func (s *Store) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetBooking(ctx, id)
}

func (s *Store) ListBookingsByBuyer(ctx context.Context, buyerID uint64) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListBookingsByBuyer(ctx, buyerID)
}

func (s *Store) ListExpiredHeldBookings(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListExpiredHeldBookings(ctx, now, limit)
}

func (s *Store) GetOrder(ctx context.Context, id uint64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetOrder(ctx, id)
}

func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetOrderByReference(ctx, reference)
}

func (s *Store) ListAuditEvents(ctx context.Context, entity model.AuditEntity, entityID uint64) ([]model.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListAuditEvents(ctx, entity, entityID)
}

// CallbackCount returns the number of stored idempotency records.
func (s *Store) CallbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.callbacks)
}

// tx implements repository.Tx directly on the live state.  The caller
// already holds the store lock.
type tx struct {
	st *state
}

func (t *tx) GetOption(_ context.Context, id uint64) (*model.Option, error) {
	o, ok := t.st.options[id]
	if !ok {
		return nil, model.ErrOptionNotFound
	}
	return &o, nil
}

func (t *tx) GetHold(_ context.Context, token string) (*model.Hold, error) {
	h, ok := t.st.holds[token]
	if !ok {
		return nil, model.ErrHoldNotFound
	}
	return &h, nil
}

func (t *tx) GetBooking(_ context.Context, id uint64) (*model.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	return &b, nil
}

func (t *tx) ListBookingsByBuyer(_ context.Context, buyerID uint64) ([]model.Booking, error) {
	out := make([]model.Booking, 0)
	for _, b := range t.st.bookings {
		if b.BuyerID == buyerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *tx) ListExpiredHeldBookings(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	out := make([]model.Booking, 0)
	for _, b := range t.st.bookings {
		if b.Status == model.BookingHeld && !b.ExpiresAt.After(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) GetOrder(_ context.Context, id uint64) (*model.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	o.BookingIDs = append([]uint64(nil), o.BookingIDs...)
	return &o, nil
}

func (t *tx) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	id, ok := t.st.references[reference]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	return t.GetOrder(ctx, id)
}

func (t *tx) ListAuditEvents(_ context.Context, entity model.AuditEntity, entityID uint64) ([]model.AuditEvent, error) {
	out := make([]model.AuditEvent, 0)
	for _, ev := range t.st.audit {
		if ev.Entity == entity && ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (t *tx) InsertOption(_ context.Context, o *model.Option) error {
	now := time.Now().UTC()
	o.ID = t.st.nextID()
	o.Pending, o.Committed = 0, 0
	o.CreatedAt, o.UpdatedAt = now, now
	t.st.options[o.ID] = *o
	return nil
}

func (t *tx) LockOption(ctx context.Context, id uint64) (*model.Option, error) {
	return t.GetOption(ctx, id)
}

func (t *tx) UpdateOptionCounters(_ context.Context, id uint64, pending, committed int) error {
	o, ok := t.st.options[id]
	if !ok {
		return model.ErrOptionNotFound
	}
	if pending < 0 || committed < 0 || pending+committed > o.Capacity {
		return fmt.Errorf("option %d counters out of range: pending=%d committed=%d capacity=%d", id, pending, committed, o.Capacity)
	}
	o.Pending, o.Committed = pending, committed
	o.UpdatedAt = time.Now().UTC()
	t.st.options[id] = o
	return nil
}

func (t *tx) InsertHold(_ context.Context, h *model.Hold) error {
	if _, dup := t.st.holds[h.Token]; dup {
		return fmt.Errorf("duplicate hold token %s", h.Token)
	}
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now
	t.st.holds[h.Token] = *h
	return nil
}

func (t *tx) LockHold(ctx context.Context, token string) (*model.Hold, error) {
	return t.GetHold(ctx, token)
}

func (t *tx) UpdateHold(_ context.Context, h *model.Hold) error {
	cur, ok := t.st.holds[h.Token]
	if !ok {
		return model.ErrHoldNotFound
	}
	cur.BookingID = h.BookingID
	cur.State = h.State
	cur.UpdatedAt = time.Now().UTC()
	h.UpdatedAt = cur.UpdatedAt
	t.st.holds[h.Token] = cur
	return nil
}

func (t *tx) InsertBooking(_ context.Context, b *model.Booking) error {
	now := time.Now().UTC()
	b.ID = t.st.nextID()
	b.CreatedAt, b.UpdatedAt = now, now
	t.st.bookings[b.ID] = *b
	return nil
}

func (t *tx) LockBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *tx) UpdateBooking(_ context.Context, b *model.Booking) error {
	cur, ok := t.st.bookings[b.ID]
	if !ok {
		return model.ErrBookingNotFound
	}
	cur.OrderID = b.OrderID
	cur.Status = b.Status
	cur.ExpiresAt = b.ExpiresAt
	cur.UpdatedAt = time.Now().UTC()
	b.UpdatedAt = cur.UpdatedAt
	t.st.bookings[b.ID] = cur
	return nil
}

func (t *tx) InsertOrder(_ context.Context, o *model.Order) error {
	if _, dup := t.st.references[o.Reference]; dup {
		return fmt.Errorf("duplicate order reference %s", o.Reference)
	}
	now := time.Now().UTC()
	o.ID = t.st.nextID()
	o.CreatedAt, o.UpdatedAt = now, now
	stored := *o
	stored.BookingIDs = append([]uint64(nil), o.BookingIDs...)
	t.st.orders[o.ID] = stored
	t.st.references[o.Reference] = o.ID
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id uint64) (*model.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) UpdateOrder(_ context.Context, o *model.Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return model.ErrOrderNotFound
	}
	cur.PaymentStatus = o.PaymentStatus
	cur.OrderStatus = o.OrderStatus
	cur.GatewayTransactionID = o.GatewayTransactionID
	cur.InitiatedAt = o.InitiatedAt
	cur.CancelReason = o.CancelReason
	cur.ReviewRequired = o.ReviewRequired
	cur.UpdatedAt = time.Now().UTC()
	o.UpdatedAt = cur.UpdatedAt
	t.st.orders[o.ID] = cur
	return nil
}

func (t *tx) InsertCallback(_ context.Context, cb *model.GatewayCallback) (bool, error) {
	key := callbackKey{txID: cb.GatewayTransactionID, eventType: cb.EventType}
	if _, dup := t.st.callbacks[key]; dup {
		return false, nil
	}
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = time.Now().UTC()
	}
	cb.ID = t.st.nextID()
	t.st.callbacks[key] = *cb
	return true, nil
}

func (t *tx) InsertAudit(_ context.Context, ev *model.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.ID = t.st.nextID()
	t.st.audit = append(t.st.audit, *ev)
	return nil
}
