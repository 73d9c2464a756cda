// Package linepay is the LINE Pay v3 request/confirm adapter.
//
// Initiate creates a payment request and sends the buyer to LINE Pay.
// LINE Pay returns the buyer to the confirm URL, whose query string
// carries our own signature; only after that signature checks out does
// the adapter make the confirm call that actually captures the payment.
// The cancel URL reports an aborted payment.
package linepay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
)

// Return codes used by the adapter.
const (
	codeSuccess          = "0000"
	codeAlreadyConfirmed = "1172"
)

// Return events, set by the HTTP layer from the route the buyer hit.
const (
	EventConfirm = "confirm"
	EventCancel  = "cancel"
)

// Payload parameter names.
const (
	ParamOrderID       = "orderId"
	ParamTransactionID = "transactionId"
	ParamSig           = "sig"
	ParamEvent         = "event"
)

// Config holds channel credentials and URLs.
type Config struct {
	ChannelID     string
	ChannelSecret string
	BaseURL       string // https://sandbox-api-pay.line.me or https://api-pay.line.me
	ConfirmURL    string // our buyer-facing confirm route
	CancelURL     string // our buyer-facing cancel route
	SigningKey    string // signs confirm and cancel URLs; defaults to ChannelSecret
	Currency      string
	HTTPClient    *http.Client
}

// Provider implements payment.Provider and payment.Confirmer.
type Provider struct {
	cfg Config
	api *client
}

var (
	_ payment.Provider  = (*Provider)(nil)
	_ payment.Confirmer = (*Provider)(nil)
)

// New returns a LINE Pay adapter.
func New(cfg Config) *Provider {
	if cfg.Currency == "" {
		cfg.Currency = "TWD"
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = cfg.ChannelSecret
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{
		cfg: cfg,
		api: &client{
			baseURL:   cfg.BaseURL,
			channelID: cfg.ChannelID,
			secret:    cfg.ChannelSecret,
			http:      cfg.HTTPClient,
			nonce:     newNonce,
		},
	}
}

func (p *Provider) Method() model.PaymentMethod { return model.PaymentLinePay }

// returnURL appends the order reference and its signature to base.
func (p *Provider) returnURL(base, event, reference string) string {
	sig := payment.SignParams(p.cfg.SigningKey, map[string]string{ParamOrderID: reference, ParamEvent: event})
	q := url.Values{}
	q.Set(ParamOrderID, reference)
	q.Set(ParamSig, sig)
	return base + "?" + q.Encode()
}

// Initiate calls /v3/payments/request and redirects the buyer to the
// returned payment page.
func (p *Provider) Initiate(ctx context.Context, order *model.Order, items []payment.Item) (*payment.Initiation, error) {
	products := make([]product, 0, len(items))
	for _, it := range items {
		products = append(products, product{Name: it.Name, Quantity: it.Quantity, Price: it.UnitPrice})
	}
	body := requestBody{
		Amount:   order.TotalAmount,
		Currency: p.cfg.Currency,
		OrderID:  order.Reference,
		Packages: []pkg{{ID: order.Reference, Amount: order.TotalAmount, Products: products}},
		RedirectURLs: redirectURLs{
			ConfirmURL: p.returnURL(p.cfg.ConfirmURL, EventConfirm, order.Reference),
			CancelURL:  p.returnURL(p.cfg.CancelURL, EventCancel, order.Reference),
		},
	}
	raw, err := p.api.post(ctx, "/v3/payments/request", body)
	if err != nil {
		return nil, err
	}
	var resp requestResponse
	if err := decode(raw, &resp); err != nil {
		return nil, fmt.Errorf("linepay request: decode: %w", err)
	}
	if resp.ReturnCode != codeSuccess {
		return nil, fmt.Errorf("linepay request %s %s: %w", resp.ReturnCode, resp.ReturnMessage, payment.ErrProviderRejected)
	}
	return &payment.Initiation{
		Redirect: payment.RedirectInstruction{
			Method: http.MethodGet,
			URL:    resp.Info.PaymentURL.Web,
		},
		ProviderReference:    order.Reference,
		GatewayTransactionID: resp.Info.TransactionID.String(),
	}, nil
}

// VerifySignature checks the sig parameter of a buyer return.
func (p *Provider) VerifySignature(pl payment.Payload) bool {
	ref, event, sig := pl.Params[ParamOrderID], pl.Params[ParamEvent], pl.Params[ParamSig]
	if ref == "" || sig == "" || (event != EventConfirm && event != EventCancel) {
		return false
	}
	return payment.VerifyParams(p.cfg.SigningKey, map[string]string{ParamOrderID: ref, ParamEvent: event}, sig)
}

func (p *Provider) OrderReference(pl payment.Payload) (string, error) {
	ref := pl.Params[ParamOrderID]
	if ref == "" {
		return "", fmt.Errorf("linepay: orderId missing: %w", payment.ErrMalformedPayload)
	}
	return ref, nil
}

// Confirm captures the payment for a confirm return.  The transactionId
// LINE Pay appends to the return URL is not covered by our signature, so
// it must equal the id Initiate recorded on the order.  The response body
// is attached to the payload for Translate.  Cancel returns need no
// provider call.
func (p *Provider) Confirm(ctx context.Context, pl payment.Payload, order *model.Order) (payment.Payload, error) {
	if pl.Params[ParamEvent] != EventConfirm {
		return pl, nil
	}
	txID := pl.Params[ParamTransactionID]
	if txID == "" {
		return pl, fmt.Errorf("linepay: transactionId missing: %w", payment.ErrMalformedPayload)
	}
	if order.GatewayTransactionID == nil || *order.GatewayTransactionID != txID {
		return pl, fmt.Errorf("linepay: transaction %s was not issued for order %s: %w", txID, order.Reference, model.ErrSignatureInvalid)
	}
	raw, err := p.api.post(ctx, "/v3/payments/"+url.PathEscape(txID)+"/confirm", confirmBody{
		Amount:   order.TotalAmount,
		Currency: p.cfg.Currency,
	})
	if err != nil {
		return pl, err
	}
	var resp confirmResponse
	if err := decode(raw, &resp); err == nil && resp.ReturnCode == codeAlreadyConfirmed {
		if raw, err = p.details(ctx, txID, resp); err != nil {
			return pl, err
		}
	}
	pl.Body = raw
	return pl, nil
}

// details looks up an already confirmed transaction and returns it in
// the shape of a confirm response, so Translate checks its order and
// amount like any other success.
func (p *Provider) details(ctx context.Context, txID string, resp confirmResponse) ([]byte, error) {
	raw, err := p.api.get(ctx, "/v3/payments", url.Values{ParamTransactionID: {txID}})
	if err != nil {
		return nil, err
	}
	var d detailsResponse
	if err := decode(raw, &d); err != nil {
		return nil, fmt.Errorf("linepay details: decode: %w", err)
	}
	if d.ReturnCode != codeSuccess {
		return nil, fmt.Errorf("linepay details %s %s: %w", d.ReturnCode, d.ReturnMessage, payment.ErrProviderRejected)
	}
	for _, info := range d.Info {
		if info.TransactionID.String() != txID {
			continue
		}
		resp.Info.OrderID = info.OrderID
		resp.Info.TransactionID = info.TransactionID
		resp.Info.PayInfo = info.PayInfo
		return json.Marshal(resp)
	}
	return nil, fmt.Errorf("linepay details: transaction %s not found: %w", txID, payment.ErrProviderRejected)
}

// Translate maps a buyer return.  A cancel is a failure.  A confirm is
// successful on returnCode 0000, and on 1172, which LINE Pay answers
// when the same transaction was already confirmed; Confirm then fills
// the body from the payment details.  Either way the paid amount must
// match.  Every other code is a failure, with no amount to check.
func (p *Provider) Translate(pl payment.Payload, expectedAmount int64) (*payment.Result, error) {
	ref, err := p.OrderReference(pl)
	if err != nil {
		return nil, err
	}
	res := &payment.Result{
		OrderReference:       ref,
		GatewayTransactionID: pl.Params[ParamTransactionID],
		Outcome:              model.OutcomeFailure,
	}
	event := pl.Params[ParamEvent]
	if event == EventCancel {
		res.EventType = payment.EventType(model.PaymentLinePay, EventCancel, res.Outcome)
		return res, nil
	}
	if len(pl.Body) == 0 {
		return nil, fmt.Errorf("linepay: confirm response missing: %w", payment.ErrMalformedPayload)
	}
	var resp confirmResponse
	if err := decode(pl.Body, &resp); err != nil {
		return nil, fmt.Errorf("linepay confirm: decode: %v: %w", err, payment.ErrMalformedPayload)
	}
	if resp.Info.OrderID != "" && resp.Info.OrderID != ref {
		return nil, fmt.Errorf("linepay confirm: order %s answered for %s: %w", resp.Info.OrderID, ref, payment.ErrMalformedPayload)
	}
	if res.GatewayTransactionID == "" {
		res.GatewayTransactionID = resp.Info.TransactionID.String()
	}

	switch resp.ReturnCode {
	case codeAlreadyConfirmed:
		if resp.Info.OrderID == "" {
			return nil, fmt.Errorf("linepay confirm: 1172 without payment details: %w", payment.ErrMalformedPayload)
		}
		fallthrough
	case codeSuccess:
		res.Outcome = model.OutcomeSuccess
		for _, pi := range resp.Info.PayInfo {
			res.ProviderAmount += pi.Amount
		}
		err = payment.CheckAmount(res, expectedAmount)
	}
	res.EventType = payment.EventType(model.PaymentLinePay, EventConfirm, res.Outcome)
	return res, err
}
