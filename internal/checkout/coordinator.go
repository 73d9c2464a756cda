// Package checkout groups held bookings into an order, hands the order to
// a payment gateway and applies the gateway's outcome.  Finalize and
// FinalizeTx are the only code that moves an order out of pending on a
// payment result.
package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/booking"
	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// DefaultPaymentSessionTTL is used when Options.PaymentSessionTTL is unset.
const DefaultPaymentSessionTTL = 30 * time.Minute

// Notifier receives the snapshot of every newly paid order.  Delivery is
// best effort; errors are logged and dropped.
type Notifier interface {
	OrderConfirmed(ctx context.Context, snap *model.OrderSnapshot) error
}

// Options configures a Coordinator.
type Options struct {
	PaymentSessionTTL time.Duration
	Now               func() time.Time
	Logger            *zap.Logger
	Notifier          Notifier
}

// Coordinator is the order/checkout coordinator.
type Coordinator struct {
	store      repository.Store
	bookings   *booking.Service
	providers  *payment.Registry
	sessionTTL time.Duration
	now        func() time.Time
	log        *zap.Logger
	notifier   Notifier
}

// NewCoordinator wires the coordinator.
func NewCoordinator(store repository.Store, bookings *booking.Service, providers *payment.Registry, opts Options) *Coordinator {
	if opts.PaymentSessionTTL <= 0 {
		opts.PaymentSessionTTL = DefaultPaymentSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		store:      store,
		bookings:   bookings,
		providers:  providers,
		sessionTTL: opts.PaymentSessionTTL,
		now:        opts.Now,
		log:        opts.Logger,
		notifier:   opts.Notifier,
	}
}

// Transition tells what FinalizeTx did with an outcome.
type Transition int

const (
	// Applied means the order left pending.
	Applied Transition = iota
	// Replayed means the order already held the same outcome.
	Replayed
	// Conflicted means the outcome contradicted the stored one.  The
	// order was flagged for review and otherwise left as it was.
	Conflicted
)

// CreateOrder groups the buyer's held bookings, in cart order, into a
// pending order and extends their hold deadline to the payment session.
func (c *Coordinator) CreateOrder(ctx context.Context, buyerID uint64, bookingIDs []uint64, method model.PaymentMethod) (*model.Order, error) {
	ids := dedupe(bookingIDs)
	if len(ids) == 0 {
		return nil, model.ErrEmptyCart
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%q: %w", method, model.ErrUnsupportedMethod)
	}
	if _, err := c.providers.Get(method); err != nil {
		return nil, err
	}

	var out *model.Order
	err := c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := c.now().UTC()
		locked, err := lockBookings(ctx, tx, ids)
		if err != nil {
			return err
		}
		owner := locked[ids[0]].BuyerID
		var total int64
		for _, id := range ids {
			b := locked[id]
			if b.BuyerID != owner {
				return model.ErrMixedOwner
			}
			if b.OrderID != nil {
				return fmt.Errorf("booking %d: %w", b.ID, model.ErrBookingInOrder)
			}
			if b.Status != model.BookingHeld {
				return fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, model.ErrInvalidTransition)
			}
			if !b.ExpiresAt.After(now) {
				return fmt.Errorf("booking %d hold expired: %w", b.ID, model.ErrInvalidTransition)
			}
			total += b.LineTotal()
		}
		if owner != buyerID {
			return model.ErrForbidden
		}

		ref, err := newReference(now)
		if err != nil {
			return err
		}
		o := &model.Order{
			Reference:     ref,
			BuyerID:       buyerID,
			BookingIDs:    ids,
			TotalAmount:   total,
			PaymentMethod: method,
			PaymentStatus: model.PaymentPending,
			OrderStatus:   model.OrderPending,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		deadline := now.Add(c.sessionTTL)
		orderID := o.ID
		for _, id := range ids {
			b := locked[id]
			b.OrderID = &orderID
			if deadline.After(b.ExpiresAt) {
				b.ExpiresAt = deadline
			}
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return fmt.Errorf("attach booking %d: %w", id, err)
			}
		}
		if err := tx.InsertAudit(ctx, &model.AuditEvent{
			Entity:   model.AuditOrder,
			EntityID: o.ID,
			ToStatus: string(model.OrderPending),
			Reason:   model.ReasonBuyer,
		}); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("order created",
		zap.Uint64("order_id", out.ID),
		zap.String("reference", out.Reference),
		zap.Int64("total", out.TotalAmount),
		zap.String("method", string(out.PaymentMethod)))
	return out, nil
}

// Initiate starts the payment of a pending order.  The attempt is
// recorded before the provider is called so a second Initiate fails with
// ErrAlreadyInitiated; if the provider call fails the record is cleared
// and the buyer may try again.
func (c *Coordinator) Initiate(ctx context.Context, orderID, buyerID uint64) (*payment.Initiation, error) {
	var (
		order     *model.Order
		items     []payment.Item
		initiated time.Time
	)
	err := c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return model.ErrForbidden
		}
		if o.Terminal() {
			return fmt.Errorf("order %d is %s: %w", o.ID, o.OrderStatus, model.ErrInvalidTransition)
		}
		if o.InitiatedAt != nil {
			return model.ErrAlreadyInitiated
		}
		now := c.now().UTC()
		items = make([]payment.Item, 0, len(o.BookingIDs))
		for _, id := range o.BookingIDs {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return err
			}
			if !b.ExpiresAt.After(now) {
				return fmt.Errorf("order %d payment session expired: %w", o.ID, model.ErrInvalidTransition)
			}
			opt, err := tx.GetOption(ctx, b.OptionID)
			if err != nil {
				return err
			}
			items = append(items, payment.Item{Name: opt.Name, Quantity: b.Quantity, UnitPrice: b.UnitPriceAtBooking})
		}
		initiated = now
		o.InitiatedAt = &initiated
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	provider, err := c.providers.Get(order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	init, err := provider.Initiate(ctx, order, items)
	if err != nil {
		c.log.Warn("payment initiation failed",
			zap.Uint64("order_id", order.ID),
			zap.String("method", string(order.PaymentMethod)),
			zap.Error(err))
		if clearErr := c.clearInitiation(context.WithoutCancel(ctx), order.ID, initiated); clearErr != nil {
			c.log.Error("clear initiation", zap.Uint64("order_id", order.ID), zap.Error(clearErr))
		}
		return nil, err
	}

	if init.GatewayTransactionID != "" {
		err = c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			o, err := tx.LockOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			txID := init.GatewayTransactionID
			o.GatewayTransactionID = &txID
			return tx.UpdateOrder(ctx, o)
		})
		if err != nil {
			return nil, fmt.Errorf("record gateway transaction: %w", err)
		}
	}
	c.log.Info("payment initiated",
		zap.Uint64("order_id", order.ID),
		zap.String("reference", order.Reference),
		zap.String("gateway_tx", init.GatewayTransactionID))
	return init, nil
}

func (c *Coordinator) clearInitiation(ctx context.Context, orderID uint64, at time.Time) error {
	return c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Terminal() || o.InitiatedAt == nil || !o.InitiatedAt.Equal(at) {
			return nil
		}
		o.InitiatedAt = nil
		return tx.UpdateOrder(ctx, o)
	})
}

// Finalize applies a payment outcome to an order in its own transaction.
func (c *Coordinator) Finalize(ctx context.Context, orderID uint64, outcome model.Outcome, gatewayTxID string) (*model.Order, error) {
	var (
		out *model.Order
		tr  Transition
	)
	err := c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		tr, err = c.FinalizeTx(ctx, tx, o, outcome, gatewayTxID)
		out = o
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, c.Settle(ctx, out, tr)
}

// FinalizeTx applies outcome to an order already locked in tx.  A
// gateway id is recorded only when the order has none yet.  Success
// confirms every booking and commits its hold; failure cancels every
// booking and releases its hold.  An outcome matching the stored
// terminal state is a replay and changes nothing.  A contradicting
// outcome, or any outcome for an order under review, is reported as
// Conflicted after flagging the order; callers must still commit tx so
// the flag and its audit entry persist.
func (c *Coordinator) FinalizeTx(ctx context.Context, tx repository.Tx, o *model.Order, outcome model.Outcome, gatewayTxID string) (Transition, error) {
	if o.ReviewRequired {
		return Conflicted, nil
	}
	if o.Terminal() {
		if o.StoredOutcome() == outcome {
			return Replayed, nil
		}
		return Conflicted, c.flagConflict(ctx, tx, o, outcome, gatewayTxID)
	}
	switch {
	case gatewayTxID == "":
	case o.GatewayTransactionID == nil:
		o.GatewayTransactionID = &gatewayTxID
	case *o.GatewayTransactionID != gatewayTxID:
		// The id recorded at initiation wins.
		c.log.Warn("outcome reported under another gateway transaction",
			zap.Uint64("order_id", o.ID),
			zap.String("stored_gateway_tx", *o.GatewayTransactionID),
			zap.String("reported_gateway_tx", gatewayTxID))
	}
	switch outcome {
	case model.OutcomeSuccess:
		return Applied, c.close(ctx, tx, o, model.EventPaymentSucceeded, model.BookingConfirmed, model.ReasonPayment)
	case model.OutcomeFailure:
		return Applied, c.close(ctx, tx, o, model.EventPaymentFailed, model.BookingCancelled, model.ReasonPayment)
	}
	return Applied, fmt.Errorf("outcome %q: %w", outcome, model.ErrInvalidTransition)
}

// Settle runs after the transaction that called FinalizeTx committed.
// It publishes newly paid orders and turns a conflict into
// ErrConflictingOutcome.
func (c *Coordinator) Settle(ctx context.Context, o *model.Order, tr Transition) error {
	switch tr {
	case Conflicted:
		return fmt.Errorf("order %d: %w", o.ID, model.ErrConflictingOutcome)
	case Applied:
		c.log.Info("order finalized",
			zap.Uint64("order_id", o.ID),
			zap.String("payment_status", string(o.PaymentStatus)),
			zap.String("cancel_reason", string(o.CancelReason)))
		if o.PaymentStatus == model.PaymentPaid {
			c.publish(ctx, o)
		}
	}
	return nil
}

func (c *Coordinator) flagConflict(ctx context.Context, tx repository.Tx, o *model.Order, outcome model.Outcome, gatewayTxID string) error {
	o.ReviewRequired = true
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return err
	}
	stored := ""
	if o.GatewayTransactionID != nil {
		stored = *o.GatewayTransactionID
	}
	c.log.Error("conflicting payment outcome",
		zap.Uint64("order_id", o.ID),
		zap.String("reference", o.Reference),
		zap.String("stored_status", string(o.PaymentStatus)),
		zap.String("reported_outcome", string(outcome)),
		zap.String("stored_gateway_tx", stored),
		zap.String("reported_gateway_tx", gatewayTxID))
	return tx.InsertAudit(ctx, &model.AuditEvent{
		Entity:     model.AuditOrder,
		EntityID:   o.ID,
		FromStatus: string(o.OrderStatus),
		ToStatus:   string(o.OrderStatus),
		Reason:     model.ReasonConflict,
		Detail:     fmt.Sprintf("reported %s (gateway tx %s) for %s %s order", outcome, gatewayTxID, o.PaymentStatus, o.OrderStatus),
	})
}

// close moves a pending order through ev and every booking to status.
func (c *Coordinator) close(ctx context.Context, tx repository.Tx, o *model.Order, ev model.OrderEvent, status model.BookingStatus, reason model.AuditReason) error {
	locked, err := lockBookings(ctx, tx, o.BookingIDs)
	if err != nil {
		return err
	}
	// Ledger calls lock option rows; take them in ascending option order.
	ordered := make([]*model.Booking, 0, len(locked))
	for _, b := range locked {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].OptionID == ordered[j].OptionID {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].OptionID < ordered[j].OptionID
	})
	for _, b := range ordered {
		if err := c.bookings.ApplyTx(ctx, tx, b, status, reason); err != nil {
			return err
		}
	}
	from := o.OrderStatus
	if err := o.Apply(ev); err != nil {
		return err
	}
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return err
	}
	return tx.InsertAudit(ctx, &model.AuditEvent{
		Entity:     model.AuditOrder,
		EntityID:   o.ID,
		FromStatus: string(from),
		ToStatus:   string(o.OrderStatus),
		Reason:     reason,
		Detail:     string(ev),
	})
}

// CancelOrder is the buyer abandoning a pending order.  Cancelling an
// order the buyer already cancelled is a no-op.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, buyerID uint64) (*model.Order, error) {
	var out *model.Order
	err := c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return model.ErrForbidden
		}
		out = o
		if o.Terminal() {
			if o.CancelReason == model.CancelBuyerCancelled {
				return nil
			}
			return fmt.Errorf("order %d is %s: %w", o.ID, o.OrderStatus, model.ErrInvalidTransition)
		}
		return c.close(ctx, tx, o, model.EventBuyerCancelled, model.BookingCancelled, model.ReasonBuyer)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireOrder expires a pending order whose payment session is over,
// releasing every booking.  A terminal order, or one with a booking
// whose deadline has not passed, is returned unchanged.
func (c *Coordinator) ExpireOrder(ctx context.Context, orderID uint64) (*model.Order, error) {
	var out *model.Order
	expired := false
	err := c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		if o.Terminal() {
			return nil
		}
		now := c.now()
		for _, id := range o.BookingIDs {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return err
			}
			if b.ExpiresAt.After(now) {
				return nil
			}
		}
		expired = true
		return c.close(ctx, tx, o, model.EventExpired, model.BookingExpired, model.ReasonTimeout)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		c.log.Info("order expired", zap.Uint64("order_id", out.ID), zap.String("reference", out.Reference))
	}
	return out, nil
}

// Get returns an order owned by buyerID.
func (c *Coordinator) Get(ctx context.Context, orderID, buyerID uint64) (*model.Order, error) {
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, model.ErrForbidden
	}
	return o, nil
}

// Snapshot builds the read-only view of an order for notification.
func (c *Coordinator) Snapshot(ctx context.Context, orderID uint64) (*model.OrderSnapshot, error) {
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	snap := &model.OrderSnapshot{
		OrderID:       o.ID,
		Reference:     o.Reference,
		BuyerID:       o.BuyerID,
		Amount:        o.TotalAmount,
		PaymentMethod: o.PaymentMethod,
		Items:         make([]model.SnapshotItem, 0, len(o.BookingIDs)),
		ConfirmedAt:   o.UpdatedAt,
	}
	if o.GatewayTransactionID != nil {
		snap.GatewayTransactionID = *o.GatewayTransactionID
	}
	for i, id := range o.BookingIDs {
		b, err := c.store.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		opt, err := c.store.GetOption(ctx, b.OptionID)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			snap.Contact = b.Contact
		}
		snap.Items = append(snap.Items, model.SnapshotItem{
			BookingID:  b.ID,
			OptionID:   b.OptionID,
			OptionName: opt.Name,
			Quantity:   b.Quantity,
			UnitPrice:  b.UnitPriceAtBooking,
			LineTotal:  b.LineTotal(),
		})
	}
	return snap, nil
}

func (c *Coordinator) publish(ctx context.Context, o *model.Order) {
	if c.notifier == nil {
		return
	}
	snap, err := c.Snapshot(ctx, o.ID)
	if err != nil {
		c.log.Warn("build order snapshot", zap.Uint64("order_id", o.ID), zap.Error(err))
		return
	}
	if err := c.notifier.OrderConfirmed(ctx, snap); err != nil {
		c.log.Warn("publish order confirmed", zap.Uint64("order_id", o.ID), zap.Error(err))
	}
}

// lockBookings locks bookings in ascending ID order.
func lockBookings(ctx context.Context, tx repository.Tx, ids []uint64) (map[uint64]*model.Booking, error) {
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[uint64]*model.Booking, len(sorted))
	for _, id := range sorted {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, nil
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// newReference returns a 20 character merchant trade number: "CP", the
// date as yymmdd and 12 random hex digits.
func newReference(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate order reference: %w", err)
	}
	return "CP" + now.Format("060102") + strings.ToUpper(hex.EncodeToString(b)), nil
}
