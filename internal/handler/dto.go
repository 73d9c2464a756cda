package handler

import (
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

type optionResponse struct {
	ID         uint64     `json:"id"`
	Name       string     `json:"name"`
	Capacity   int        `json:"capacity"`
	Available  int        `json:"available"`
	UnitPrice  int64      `json:"unit_price"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

func newOptionResponse(o *model.Option) optionResponse {
	return optionResponse{
		ID:         o.ID,
		Name:       o.Name,
		Capacity:   o.Capacity,
		Available:  o.Available(),
		UnitPrice:  o.UnitPrice,
		ValidFrom:  o.ValidFrom,
		ValidUntil: o.ValidUntil,
	}
}

type bookingResponse struct {
	ID        uint64              `json:"id"`
	OptionID  uint64              `json:"option_id"`
	Quantity  int                 `json:"quantity"`
	UnitPrice int64               `json:"unit_price"`
	LineTotal int64               `json:"line_total"`
	Status    model.BookingStatus `json:"status"`
	OrderID   *uint64             `json:"order_id,omitempty"`
	Contact   model.Contact       `json:"contact"`
	ExpiresAt time.Time           `json:"expires_at"`
	CreatedAt time.Time           `json:"created_at"`
}

func newBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:        b.ID,
		OptionID:  b.OptionID,
		Quantity:  b.Quantity,
		UnitPrice: b.UnitPriceAtBooking,
		LineTotal: b.LineTotal(),
		Status:    b.Status,
		OrderID:   b.OrderID,
		Contact:   b.Contact,
		ExpiresAt: b.ExpiresAt,
		CreatedAt: b.CreatedAt,
	}
}

type orderResponse struct {
	ID             uint64              `json:"id"`
	Reference      string              `json:"reference"`
	BookingIDs     []uint64            `json:"booking_ids"`
	TotalAmount    int64               `json:"total_amount"`
	PaymentMethod  model.PaymentMethod `json:"payment_method"`
	PaymentStatus  model.PaymentStatus `json:"payment_status"`
	OrderStatus    model.OrderStatus   `json:"order_status"`
	CancelReason   model.CancelReason  `json:"cancel_reason,omitempty"`
	ReviewRequired bool                `json:"review_required,omitempty"`
	InitiatedAt    *time.Time          `json:"initiated_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func newOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		Reference:      o.Reference,
		BookingIDs:     o.BookingIDs,
		TotalAmount:    o.TotalAmount,
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  o.PaymentStatus,
		OrderStatus:    o.OrderStatus,
		CancelReason:   o.CancelReason,
		ReviewRequired: o.ReviewRequired,
		InitiatedAt:    o.InitiatedAt,
		CreatedAt:      o.CreatedAt,
	}
}
