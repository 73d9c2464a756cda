// Package queue carries order confirmations over RabbitMQ: a publisher
// used by the checkout coordinator and a consumer appending each
// confirmation to logs/booking.log.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// OrderConfirmedQueue is the durable queue confirmations are routed to.
const OrderConfirmedQueue = "booking.confirmed"

// OrderConfirmedEvent is published once per paid order.  It embeds the
// order snapshot so consumers never need to query the primary database.
type OrderConfirmedEvent struct {
	EventID     string    `json:"event_id"`
	PublishedAt time.Time `json:"published_at"`
	model.OrderSnapshot
}

// NewOrderConfirmedEvent stamps a snapshot with a fresh event id.
func NewOrderConfirmedEvent(snap model.OrderSnapshot, now time.Time) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		EventID:       uuid.NewString(),
		PublishedAt:   now.UTC(),
		OrderSnapshot: snap,
	}
}
