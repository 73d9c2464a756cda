package model

import "time"

// SnapshotItem is one booking line of an OrderSnapshot.
type SnapshotItem struct {
	BookingID  uint64 `json:"booking_id"`
	OptionID   uint64 `json:"option_id"`
	OptionName string `json:"option_name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	LineTotal  int64  `json:"line_total"`
}

// OrderSnapshot is the read-only view of a paid order handed to
// downstream consumers.
type OrderSnapshot struct {
	OrderID              uint64         `json:"order_id"`
	Reference            string         `json:"reference"`
	BuyerID              uint64         `json:"buyer_id"`
	Amount               int64          `json:"amount"`
	PaymentMethod        PaymentMethod  `json:"payment_method"`
	GatewayTransactionID string         `json:"gateway_transaction_id,omitempty"`
	Contact              Contact        `json:"contact"`
	Items                []SnapshotItem `json:"items"`
	ConfirmedAt          time.Time      `json:"confirmed_at"`
}
