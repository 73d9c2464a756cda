package model

import "time"

// GatewayCallback is the idempotency record for an inbound gateway
// notification or confirmation.  The pair (GatewayTransactionID,
// EventType) is unique; a second insert with the same pair means the
// event has already been applied.
type GatewayCallback struct {
	ID                   uint64    // gateway_callbacks.id
	GatewayTransactionID string    // gateway_callbacks.gateway_transaction_id
	EventType            string    // gateway_callbacks.event_type
	OrderID              uint64    // gateway_callbacks.order_id
	Outcome              Outcome   // gateway_callbacks.outcome
	Payload              string    // gateway_callbacks.payload (raw, for audit)
	ReceivedAt           time.Time // gateway_callbacks.received_at
}

// AuditEntity names the aggregate an audit event belongs to.
type AuditEntity string

const (
	AuditBooking AuditEntity = "booking"
	AuditOrder   AuditEntity = "order"
)

// AuditReason tells buyer-driven, timeout-driven, payment-driven and
// conflict entries apart.
type AuditReason string

const (
	ReasonBuyer    AuditReason = "buyer"
	ReasonTimeout  AuditReason = "timeout"
	ReasonPayment  AuditReason = "payment"
	ReasonConflict AuditReason = "conflict"
)

// AuditEvent records one status change.  Conflict entries carry the
// rejected outcome in Detail for manual review.
type AuditEvent struct {
	ID         uint64      // audit_events.id
	Entity     AuditEntity // audit_events.entity
	EntityID   uint64      // audit_events.entity_id
	FromStatus string      // audit_events.from_status
	ToStatus   string      // audit_events.to_status
	Reason     AuditReason // audit_events.reason
	Detail     string      // audit_events.detail
	CreatedAt  time.Time   // audit_events.created_at
}
