package model

import "time"

// BookingStatus is the lifecycle state of a booking line.
type BookingStatus string

const (
	BookingHeld      BookingStatus = "HELD"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
)

// bookingTransitions is the full set of legal booking moves.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingHeld:      {BookingConfirmed, BookingCancelled, BookingExpired},
	BookingConfirmed: {BookingCancelled},
}

// CanTransition reports whether a booking in status s may move to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the booking still consumes capacity.
func (s BookingStatus) Active() bool {
	return s == BookingHeld || s == BookingConfirmed
}

// Contact is the buyer's contact information captured with a booking.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Booking is one reservation line: a quantity of an option for a buyer.
// Bookings are soft-deleted through status transitions and are never
// removed from storage.
//
// Fields:
//  ID                 – primary key identifier.
//  OptionID           – option being reserved.
//  Quantity           – units reserved.
//  BuyerID            – authenticated buyer who owns the booking.
//  Contact            – contact details for the stay.
//  UnitPriceAtBooking – option price captured when the hold was taken.
//  HoldToken          – ledger hold backing this booking.
//  OrderID            – order the booking belongs to (nullable).
//  Status             – HELD, CONFIRMED, CANCELLED or EXPIRED.
//  ExpiresAt          – when an unpaid hold is released by the sweep.
type Booking struct {
	ID                 uint64        // bookings.id
	OptionID           uint64        // bookings.option_id
	Quantity           int           // bookings.quantity
	BuyerID            uint64        // bookings.buyer_id
	Contact            Contact       // bookings.contact_name/phone/email
	UnitPriceAtBooking int64         // bookings.unit_price
	HoldToken          string        // bookings.hold_token
	OrderID            *uint64       // bookings.order_id (nullable)
	Status             BookingStatus // bookings.status
	ExpiresAt          time.Time     // bookings.expires_at
	CreatedAt          time.Time     // bookings.created_at
	UpdatedAt          time.Time     // bookings.updated_at
}

// LineTotal is quantity times the captured unit price.
func (b Booking) LineTotal() int64 {
	return int64(b.Quantity) * b.UnitPriceAtBooking
}
