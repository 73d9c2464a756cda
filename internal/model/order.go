package model

import "time"

// PaymentMethod selects the gateway used to pay an order.
type PaymentMethod string

const (
	// PaymentECPay redirects the buyer and learns the result from a signed
	// server-to-server notification.
	PaymentECPay PaymentMethod = "ecpay"
	// PaymentLinePay creates a payment request and confirms it when the
	// buyer returns to the confirm URL.
	PaymentLinePay PaymentMethod = "linepay"
)

// Valid reports whether m is one of the supported gateways.
func (m PaymentMethod) Valid() bool {
	return m == PaymentECPay || m == PaymentLinePay
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Outcome is the result a gateway reports for an order.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// CancelReason explains why an order reached the cancelled state.
type CancelReason string

const (
	CancelPaymentFailed  CancelReason = "payment_failed"
	CancelExpired        CancelReason = "expired"
	CancelBuyerCancelled CancelReason = "buyer_cancelled"
)

// OrderEvent drives the order state machine.
type OrderEvent string

const (
	EventPaymentSucceeded OrderEvent = "payment_succeeded"
	EventPaymentFailed    OrderEvent = "payment_failed"
	EventExpired          OrderEvent = "expired"
	EventBuyerCancelled   OrderEvent = "buyer_cancelled"
)

// Order is the payable grouping of one or more bookings with a single
// payment attempt.  Orders are never deleted; terminal states are kept
// for audit and replay detection.
//
// Fields:
//  ID                   – primary key identifier.
//  Reference            – merchant trade number sent to the gateway.
//  BuyerID              – buyer who owns every booking in the order.
//  BookingIDs           – bookings in cart order, never empty.
//  TotalAmount          – Σ quantity × unit price in whole TWD.
//  PaymentMethod        – ecpay or linepay.
//  PaymentStatus        – PENDING, PAID or FAILED.
//  OrderStatus          – PENDING, CONFIRMED or CANCELLED.
//  GatewayTransactionID – gateway id once known (nullable).
//  InitiatedAt          – when payment was initiated (nullable).
//  CancelReason         – why the order was cancelled, if it was.
//  ReviewRequired       – automation halted after a conflicting outcome.
type Order struct {
	ID                   uint64        // orders.id
	Reference            string        // orders.reference
	BuyerID              uint64        // orders.buyer_id
	BookingIDs           []uint64      // order_bookings.booking_id ordered by position
	TotalAmount          int64         // orders.total_amount
	PaymentMethod        PaymentMethod // orders.payment_method
	PaymentStatus        PaymentStatus // orders.payment_status
	OrderStatus          OrderStatus   // orders.order_status
	GatewayTransactionID *string       // orders.gateway_transaction_id (nullable)
	InitiatedAt          *time.Time    // orders.initiated_at (nullable)
	CancelReason         CancelReason  // orders.cancel_reason
	ReviewRequired       bool          // orders.review_required
	CreatedAt            time.Time     // orders.created_at
	UpdatedAt            time.Time     // orders.updated_at
}

// Terminal reports whether the order has left the pending state.
func (o Order) Terminal() bool {
	return o.PaymentStatus != PaymentPending
}

// StoredOutcome maps a terminal order back to the outcome that put it
// there.  It returns "" for a pending order.
func (o Order) StoredOutcome() Outcome {
	switch o.PaymentStatus {
	case PaymentPaid:
		return OutcomeSuccess
	case PaymentFailed:
		return OutcomeFailure
	}
	return ""
}

// Apply is the single transition function for orders.  Only pending
// orders move; every terminal state rejects further events.
func (o *Order) Apply(ev OrderEvent) error {
	if o.Terminal() {
		return ErrInvalidTransition
	}
	switch ev {
	case EventPaymentSucceeded:
		o.PaymentStatus = PaymentPaid
		o.OrderStatus = OrderConfirmed
	case EventPaymentFailed:
		o.PaymentStatus = PaymentFailed
		o.OrderStatus = OrderCancelled
		o.CancelReason = CancelPaymentFailed
	case EventExpired:
		o.PaymentStatus = PaymentFailed
		o.OrderStatus = OrderCancelled
		o.CancelReason = CancelExpired
	case EventBuyerCancelled:
		o.PaymentStatus = PaymentFailed
		o.OrderStatus = OrderCancelled
		o.CancelReason = CancelBuyerCancelled
	default:
		return ErrInvalidTransition
	}
	return nil
}
