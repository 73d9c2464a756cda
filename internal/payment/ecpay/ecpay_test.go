package ecpay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
)

const (
	stageKey = "pwFHCqoQZGmho4w6"
	stageIV  = "EkRm7iFT261dpevs"
)

func newStageProvider() *Provider {
	return New(Config{
		MerchantID:  "3002607",
		HashKey:     stageKey,
		HashIV:      stageIV,
		CheckoutURL: "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
		ReturnURL:   "https://camp.example.com/v1/payments/ecpay/notify",
		Now:         func() time.Time { return time.Date(2026, 7, 1, 2, 30, 0, 0, time.UTC) },
	})
}

func paidNotification() map[string]string {
	return map[string]string{
		"MerchantID":      "3002607",
		"MerchantTradeNo": "CP260701A1B2C3D4E5F6",
		"RtnCode":         "1",
		"RtnMsg":          "交易成功",
		"TradeNo":         "2607011030001234",
		"TradeAmt":        "2400",
		"PaymentDate":     "2026/07/01 10:31:00",
		"PaymentType":     "Credit_CreditCard",
		"TradeDate":       "2026/07/01 10:30:00",
		"SimulatePaid":    "0",
		"CheckMacValue":   "CC01D338A1359302323A6210531EBBBFF07CEDCE9E886F09CE1D51A55955E3CF",
	}
}

func TestCanonicalString(t *testing.T) {
	got := canonical(map[string]string{"b": "x y", "A": "1", "CheckMacValue": "ignored"}, "k", "v")
	assert.Equal(t, "hashkey%3dk%26a%3d1%26b%3dx+y%26hashiv%3dv", got)
	assert.Equal(t, "87201FE16C4D5A0EDCDAC009404B3EC46C10F08426917E9182B1BF3E9DB2B579",
		CheckMacValue(map[string]string{"b": "x y", "A": "1"}, "k", "v"))
}

func TestCheckMacValueMatchesGatewaySample(t *testing.T) {
	params := map[string]string{
		"TradeDesc":         "促銷方案",
		"PaymentType":       "aio",
		"MerchantTradeDate": "2023/03/12 15:30:23",
		"MerchantTradeNo":   "ecpay20230312153023",
		"MerchantID":        "3002607",
		"ReturnURL":         "https://www.ecpay.com.tw/receive.php",
		"ItemName":          "Apple iphone 15",
		"TotalAmount":       "30000",
		"ChoosePayment":     "ALL",
		"EncryptType":       "1",
	}
	assert.Equal(t, "6C51C9E6888DE861FD62FB1DD17029FC742634498FD813DC43D4243B5685B840",
		CheckMacValue(params, stageKey, stageIV))
}

func TestInitiateBuildsSignedForm(t *testing.T) {
	p := newStageProvider()
	order := &model.Order{Reference: "CP260701A1B2C3D4E5F6", TotalAmount: 2400}
	init, err := p.Initiate(context.Background(), order, []payment.Item{
		{Name: "Lakeside #3", Quantity: 2, UnitPrice: 1200},
		{Name: "Firewood", Quantity: 1, UnitPrice: 0},
	})
	require.NoError(t, err)

	form := init.Redirect.Form
	assert.Equal(t, "POST", init.Redirect.Method)
	assert.Equal(t, "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5", init.Redirect.URL)
	assert.Equal(t, "CP260701A1B2C3D4E5F6", init.ProviderReference)
	assert.Empty(t, init.GatewayTransactionID)
	assert.Equal(t, "2026/07/01 10:30:00", form["MerchantTradeDate"])
	assert.Equal(t, "2400", form["TotalAmount"])
	assert.Equal(t, "Lakeside  3 x 2#Firewood x 1", form["ItemName"])
	assert.Equal(t, "ALL", form["ChoosePayment"])
	assert.Equal(t, CheckMacValue(form, stageKey, stageIV), form["CheckMacValue"])
	assert.NotContains(t, form, "ClientBackURL")
}

func TestVerifySignature(t *testing.T) {
	p := newStageProvider()
	params := paidNotification()
	assert.True(t, p.VerifySignature(payment.Payload{Params: params}))

	lower := paidNotification()
	lower["CheckMacValue"] = "cc01d338a1359302323a6210531ebbbff07cedce9e886f09ce1d51a55955e3cf"
	assert.True(t, p.VerifySignature(payment.Payload{Params: lower}))

	tampered := paidNotification()
	tampered["TradeAmt"] = "1"
	assert.False(t, p.VerifySignature(payment.Payload{Params: tampered}))

	unsigned := paidNotification()
	delete(unsigned, "CheckMacValue")
	assert.False(t, p.VerifySignature(payment.Payload{Params: unsigned}))

	other := paidNotification()
	other["MerchantID"] = "2000132"
	assert.False(t, p.VerifySignature(payment.Payload{Params: other}))
}

func TestTranslate(t *testing.T) {
	p := newStageProvider()
	tests := []struct {
		name     string
		edit     func(map[string]string)
		expected int64
		outcome  model.Outcome
		err      error
	}{
		{"paid", func(map[string]string) {}, 2400, model.OutcomeSuccess, nil},
		{"declined", func(m map[string]string) { m["RtnCode"] = "10100248" }, 2400, model.OutcomeFailure, nil},
		{"amount mismatch", func(map[string]string) {}, 2500, model.OutcomeFailure, model.ErrAmountMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := paidNotification()
			tt.edit(params)
			res, err := p.Translate(payment.Payload{Params: params}, tt.expected)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			require.NotNil(t, res)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, "CP260701A1B2C3D4E5F6", res.OrderReference)
			assert.Equal(t, "2607011030001234", res.GatewayTransactionID)
			assert.Equal(t, "ecpay.notify."+string(tt.outcome), res.EventType)
			assert.Equal(t, int64(2400), res.ProviderAmount)
		})
	}
}

func TestTranslateMalformed(t *testing.T) {
	p := newStageProvider()
	for _, field := range []string{"MerchantTradeNo", "TradeNo", "TradeAmt"} {
		params := paidNotification()
		delete(params, field)
		_, err := p.Translate(payment.Payload{Params: params}, 2400)
		assert.ErrorIs(t, err, payment.ErrMalformedPayload, field)
	}
}

func TestAck(t *testing.T) {
	assert.Equal(t, "1|OK", AckOK)
	assert.Equal(t, "0|signature invalid", AckError("signature invalid"))
}
