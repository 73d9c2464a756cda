package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-booking-engine/internal/checkout"
	"github.com/iliyamo/camp-booking-engine/internal/model"
)

var _ checkout.Notifier = (*Publisher)(nil)

func snapshot() model.OrderSnapshot {
	return model.OrderSnapshot{
		OrderID:       9,
		Reference:     "CP261014ABCDEF012345",
		BuyerID:       3,
		Amount:        4500,
		PaymentMethod: model.PaymentECPay,
		Contact:       model.Contact{Name: "Lin", Phone: "0912000000"},
		Items: []model.SnapshotItem{
			{BookingID: 1, OptionID: 5, OptionName: "Riverside tent", Quantity: 2, UnitPrice: 1500, LineTotal: 3000},
			{BookingID: 2, OptionID: 6, OptionName: "BBQ set", Quantity: 1, UnitPrice: 1500, LineTotal: 1500},
		},
		ConfirmedAt: time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC),
	}
}

func TestEventFlattensSnapshot(t *testing.T) {
	ev := NewOrderConfirmedEvent(snapshot(), time.Now())
	require.NotEmpty(t, ev.EventID)

	body, err := json.Marshal(ev)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "CP261014ABCDEF012345", m["reference"])
	assert.Equal(t, ev.EventID, m["event_id"])
	assert.Len(t, m["items"], 2)
}

func TestConsumerAppendsOneLinePerMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "booking.log")
	c := NewConsumer("", path, nil)

	body, err := json.Marshal(NewOrderConfirmedEvent(snapshot(), time.Now()))
	require.NoError(t, err)
	require.NoError(t, c.handle(body))
	require.NoError(t, c.handle(body))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"[2026-10-14T08:30:00Z] Order confirmed | reference=CP261014ABCDEF012345 | order_id=9 | buyer_id=3 | method=ecpay | amount=4500 | items=[Riverside tent x2,BBQ set x1]",
		lines[0])
}

func TestConsumerRejectsGarbage(t *testing.T) {
	c := NewConsumer("", filepath.Join(t.TempDir(), "booking.log"), nil)
	assert.Error(t, c.handle([]byte("not json")))
}
