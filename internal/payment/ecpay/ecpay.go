// Package ecpay is the ECPay all-in-one (AIO) checkout adapter.  The
// buyer's browser auto-submits a signed form to ECPay and the result
// arrives later as a signed server-to-server notification on ReturnURL.
package ecpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
)

// Notification acknowledgements.  ECPay retries a notification until it
// receives AckOK.
const (
	AckOK     = "1|OK"
	ackPrefix = "0|"
)

// AckError formats a rejection acknowledgement.
func AckError(msg string) string { return ackPrefix + msg }

const tradeDateLayout = "2006/01/02 15:04:05"

// taipei is the zone ECPay expects MerchantTradeDate in.
var taipei = time.FixedZone("Asia/Taipei", 8*60*60)

// Config holds merchant credentials and endpoints.
type Config struct {
	MerchantID    string
	HashKey       string
	HashIV        string
	CheckoutURL   string // AioCheckOut/V5 endpoint
	ReturnURL     string // server notification URL
	ClientBackURL string // where the buyer returns after paying
	ChoosePayment string // ALL, Credit, ATM, ...
	Now           func() time.Time
}

// Provider implements payment.Provider for ECPay.
type Provider struct {
	cfg Config
}

var _ payment.Provider = (*Provider)(nil)

// New returns an ECPay adapter.
func New(cfg Config) *Provider {
	if cfg.ChoosePayment == "" {
		cfg.ChoosePayment = "ALL"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Method() model.PaymentMethod { return model.PaymentECPay }

// Initiate builds the signed checkout form.  ECPay assigns its TradeNo
// only in the notification, so no gateway transaction id is returned.
func (p *Provider) Initiate(_ context.Context, order *model.Order, items []payment.Item) (*payment.Initiation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("ecpay: order %s has no items", order.Reference)
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		// '#' separates items on the ECPay payment page.
		name := strings.ReplaceAll(it.Name, "#", " ")
		names = append(names, fmt.Sprintf("%s x %d", name, it.Quantity))
	}
	form := map[string]string{
		"MerchantID":        p.cfg.MerchantID,
		"MerchantTradeNo":   order.Reference,
		"MerchantTradeDate": p.cfg.Now().In(taipei).Format(tradeDateLayout),
		"PaymentType":       "aio",
		"TotalAmount":       strconv.FormatInt(order.TotalAmount, 10),
		"TradeDesc":         "Camp booking",
		"ItemName":          strings.Join(names, "#"),
		"ReturnURL":         p.cfg.ReturnURL,
		"ChoosePayment":     p.cfg.ChoosePayment,
		"EncryptType":       "1",
	}
	if p.cfg.ClientBackURL != "" {
		form["ClientBackURL"] = p.cfg.ClientBackURL
	}
	form["CheckMacValue"] = CheckMacValue(form, p.cfg.HashKey, p.cfg.HashIV)
	return &payment.Initiation{
		Redirect: payment.RedirectInstruction{
			Method: "POST",
			URL:    p.cfg.CheckoutURL,
			Form:   form,
		},
		ProviderReference: order.Reference,
	}, nil
}

// VerifySignature checks the notification's CheckMacValue and that it
// is addressed to this merchant.
func (p *Provider) VerifySignature(pl payment.Payload) bool {
	got := pl.Params["CheckMacValue"]
	if got == "" || pl.Params["MerchantID"] != p.cfg.MerchantID {
		return false
	}
	want := CheckMacValue(pl.Params, p.cfg.HashKey, p.cfg.HashIV)
	return hmac.Equal([]byte(want), []byte(strings.ToUpper(got)))
}

func (p *Provider) OrderReference(pl payment.Payload) (string, error) {
	ref := pl.Params["MerchantTradeNo"]
	if ref == "" {
		return "", fmt.Errorf("ecpay: MerchantTradeNo missing: %w", payment.ErrMalformedPayload)
	}
	return ref, nil
}

// Translate maps a notification.  RtnCode 1 is a successful payment;
// any other code is a failure.
func (p *Provider) Translate(pl payment.Payload, expectedAmount int64) (*payment.Result, error) {
	ref, err := p.OrderReference(pl)
	if err != nil {
		return nil, err
	}
	tradeNo := pl.Params["TradeNo"]
	if tradeNo == "" {
		return nil, fmt.Errorf("ecpay: TradeNo missing: %w", payment.ErrMalformedPayload)
	}
	amount, err := strconv.ParseInt(pl.Params["TradeAmt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ecpay: TradeAmt %q: %w", pl.Params["TradeAmt"], payment.ErrMalformedPayload)
	}
	outcome := model.OutcomeFailure
	if pl.Params["RtnCode"] == "1" {
		outcome = model.OutcomeSuccess
	}
	res := &payment.Result{
		OrderReference:       ref,
		GatewayTransactionID: tradeNo,
		Outcome:              outcome,
		ProviderAmount:       amount,
	}
	err = payment.CheckAmount(res, expectedAmount)
	res.EventType = payment.EventType(model.PaymentECPay, "notify", res.Outcome)
	return res, err
}

// dotnetEscape undoes the escapes that .NET's UrlEncode leaves alone,
// after lowercasing.  Go leaves '~' alone where .NET escapes it.
var dotnetEscape = strings.NewReplacer(
	"%2d", "-",
	"%5f", "_",
	"%2e", ".",
	"%21", "!",
	"%2a", "*",
	"%28", "(",
	"%29", ")",
	"~", "%7e",
)

// canonical builds the string CheckMacValue hashes: parameters other
// than CheckMacValue sorted case-insensitively, wrapped in HashKey and
// HashIV, URL-encoded and lowercased.
func canonical(params map[string]string, hashKey, hashIV string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "CheckMacValue" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return strings.ToLower(keys[i]) < strings.ToLower(keys[j]) })

	var sb strings.Builder
	sb.WriteString("HashKey=")
	sb.WriteString(hashKey)
	for _, k := range keys {
		sb.WriteByte('&')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString("&HashIV=")
	sb.WriteString(hashIV)

	return dotnetEscape.Replace(strings.ToLower(url.QueryEscape(sb.String())))
}

// CheckMacValue computes ECPay's SHA-256 signature (EncryptType 1) as
// uppercase hex.
func CheckMacValue(params map[string]string, hashKey, hashIV string) string {
	sum := sha256.Sum256([]byte(canonical(params, hashKey, hashIV)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
