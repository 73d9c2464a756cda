// Package reconcile applies gateway callbacks and buyer confirmations to
// orders exactly once.
//
// Every inbound message is verified, translated and then recorded in the
// gateway_callbacks table in the same transaction that finalizes the
// order.  The unique key on that table makes a repeated or concurrent
// delivery of the same event a no-op, whichever path (webhook or buyer
// confirm) it arrives on.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/checkout"
	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// Result is the order after a message was handled.  Duplicate is true
// when the message had already been applied, or the order was already
// settled and nothing was done.
type Result struct {
	Order     *model.Order
	Duplicate bool
}

// Worker is the reconciliation worker.
type Worker struct {
	store     repository.Store
	coord     *checkout.Coordinator
	providers *payment.Registry
	log       *zap.Logger
}

// NewWorker returns a worker.
func NewWorker(store repository.Store, coord *checkout.Coordinator, providers *payment.Registry, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{store: store, coord: coord, providers: providers, log: log}
}

// Handle verifies and applies one gateway message.
//
// ErrSignatureInvalid, ErrAmountMismatch and payment.ErrMalformedPayload
// leave the order untouched.  ErrConflictingOutcome is returned for an
// order under manual review.
func (w *Worker) Handle(ctx context.Context, method model.PaymentMethod, pl payment.Payload) (*Result, error) {
	provider, err := w.providers.Get(method)
	if err != nil {
		return nil, err
	}
	log := w.log.With(zap.String("method", string(method)))

	if !provider.VerifySignature(pl) {
		claimed, _ := provider.OrderReference(pl)
		log.Error("gateway signature invalid", zap.String("reference", claimed))
		return nil, model.ErrSignatureInvalid
	}
	ref, err := provider.OrderReference(pl)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("reference", ref))
	order, err := w.store.GetOrderByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.Uint64("order_id", order.ID))
	if order.PaymentMethod != method {
		log.Error("callback for order paid with another method", zap.String("order_method", string(order.PaymentMethod)))
		return nil, fmt.Errorf("order %s uses %s: %w", ref, order.PaymentMethod, payment.ErrMalformedPayload)
	}
	if order.ReviewRequired {
		log.Warn("callback for order under review")
		return nil, fmt.Errorf("order %d: %w", order.ID, model.ErrConflictingOutcome)
	}

	if confirmer, ok := provider.(payment.Confirmer); ok {
		if order.Terminal() {
			// Never capture a payment for a settled order.
			return &Result{Order: order, Duplicate: true}, nil
		}
		pl, err = confirmer.Confirm(ctx, pl, order)
		if err != nil {
			log.Warn("provider confirm failed", zap.Error(err))
			return nil, err
		}
	}

	res, err := provider.Translate(pl, order.TotalAmount)
	if errors.Is(err, model.ErrAmountMismatch) {
		log.Error("gateway amount mismatch",
			zap.Int64("order_total", order.TotalAmount),
			zap.Int64("provider_amount", res.ProviderAmount),
			zap.String("gateway_tx", res.GatewayTransactionID))
		return nil, err
	}
	if err != nil {
		log.Warn("translate gateway payload", zap.Error(err))
		return nil, err
	}
	if res.OrderReference != ref {
		return nil, fmt.Errorf("translated reference %s != %s: %w", res.OrderReference, ref, payment.ErrMalformedPayload)
	}

	key := res.GatewayTransactionID
	if key == "" && order.GatewayTransactionID != nil {
		key = *order.GatewayTransactionID
	}
	if key == "" {
		key = "ref:" + order.Reference
	}

	var (
		out       *model.Order
		duplicate bool
		tr        checkout.Transition
	)
	err = w.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		out = o
		inserted, err := tx.InsertCallback(ctx, &model.GatewayCallback{
			GatewayTransactionID: key,
			EventType:            res.EventType,
			OrderID:              o.ID,
			Outcome:              res.Outcome,
			Payload:              rawPayload(pl),
		})
		if err != nil {
			return fmt.Errorf("record callback: %w", err)
		}
		if !inserted {
			duplicate = true
			return nil
		}
		tr, err = w.coord.FinalizeTx(ctx, tx, o, res.Outcome, res.GatewayTransactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		log.Info("duplicate gateway event", zap.String("gateway_tx", key), zap.String("event_type", res.EventType))
		return &Result{Order: out, Duplicate: true}, nil
	}
	if err := w.coord.Settle(ctx, out, tr); err != nil {
		return &Result{Order: out}, err
	}
	return &Result{Order: out, Duplicate: tr == checkout.Replayed}, nil
}

// rawPayload serializes a payload for the audit column.
func rawPayload(pl payment.Payload) string {
	q := url.Values{}
	for k, v := range pl.Params {
		q.Set(k, v)
	}
	s := q.Encode()
	if len(pl.Body) > 0 {
		s += "\n" + string(pl.Body)
	}
	return s
}
