// Package payment defines the gateway adapter contract.  Each adapter
// isolates one provider's signing, field names and status codes behind
// Provider so the checkout coordinator and the reconciliation worker only
// ever see internal outcomes.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// ErrMalformedPayload reports a callback missing a field the adapter
// needs.  Like a bad signature it is rejected without touching the order.
var ErrMalformedPayload = errors.New("malformed gateway payload")

// ErrProviderRejected reports a gateway refusing to start a payment.
var ErrProviderRejected = errors.New("payment provider rejected request")

// Item is one line shown to the buyer on the gateway's payment page.
type Item struct {
	Name      string
	Quantity  int
	UnitPrice int64
}

// RedirectInstruction tells the buyer's browser where to go next.  A
// POST instruction carries Form fields to auto-submit; a GET instruction
// is a plain redirect to URL.
type RedirectInstruction struct {
	Method string            `json:"method"`
	URL    string            `json:"url"`
	Form   map[string]string `json:"form,omitempty"`
}

// Initiation is what an adapter returns after starting a payment.
// GatewayTransactionID is empty when the provider only assigns one in
// its callback.
type Initiation struct {
	Redirect             RedirectInstruction
	ProviderReference    string
	GatewayTransactionID string
}

// Payload is an inbound gateway message: form or query parameters and,
// for adapters that call back to the provider, the response body.
type Payload struct {
	Params map[string]string
	Body   []byte
}

// Result is a payload translated into internal vocabulary.  EventType
// and GatewayTransactionID together form the idempotency key.
type Result struct {
	OrderReference       string
	GatewayTransactionID string
	EventType            string
	Outcome              model.Outcome
	ProviderAmount       int64
}

// Provider is one payment gateway.
type Provider interface {
	Method() model.PaymentMethod
	Initiate(ctx context.Context, order *model.Order, items []Item) (*Initiation, error)
	VerifySignature(p Payload) bool
	// OrderReference extracts the merchant reference so the order, and
	// with it the expected amount, can be found before Translate.
	OrderReference(p Payload) (string, error)
	// Translate maps p to a Result and checks the provider amount against
	// expectedAmount.  On mismatch the Outcome is failure and the error
	// is model.ErrAmountMismatch.
	Translate(p Payload, expectedAmount int64) (*Result, error)
}

// Confirmer is implemented by providers that need a server-to-server
// call before the outcome is known.  Confirm returns p extended with the
// provider's answer.
type Confirmer interface {
	Confirm(ctx context.Context, p Payload, order *model.Order) (Payload, error)
}

// CheckAmount applies the amount rule shared by every adapter.
func CheckAmount(r *Result, expected int64) error {
	if r.ProviderAmount != expected {
		r.Outcome = model.OutcomeFailure
		return fmt.Errorf("provider amount %d, order total %d: %w", r.ProviderAmount, expected, model.ErrAmountMismatch)
	}
	return nil
}

// EventType builds the idempotency event type for a provider message.
func EventType(m model.PaymentMethod, kind string, outcome model.Outcome) string {
	return string(m) + "." + kind + "." + string(outcome)
}

// Registry resolves a payment method to its adapter.
type Registry struct {
	providers map[model.PaymentMethod]Provider
}

// NewRegistry indexes providers by method.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.PaymentMethod]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Method()] = p
	}
	return r
}

// Get returns the adapter for m or model.ErrUnsupportedMethod.
func (r *Registry) Get(m model.PaymentMethod) (Provider, error) {
	p, ok := r.providers[m]
	if !ok {
		return nil, fmt.Errorf("%s: %w", m, model.ErrUnsupportedMethod)
	}
	return p, nil
}
