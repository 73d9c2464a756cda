package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_STR", "")
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "90s")
	t.Setenv("X_BOOL", "off")

	assert.Equal(t, "d", envStr("X_STR", "d"))
	assert.Equal(t, 7, envInt("X_INT", 7))
	assert.Equal(t, 90*time.Second, envDur("X_DUR", time.Second))
	assert.False(t, envBool("X_BOOL", true))
	assert.True(t, envBool("X_UNSET_BOOL", true))
}

func TestLoadReadsBookingAndGatewaySettings(t *testing.T) {
	for k, v := range map[string]string{
		"STORE_DRIVER":           "memory",
		"JWT_SECRET":             "s3cret",
		"HOLD_TTL":               "10m",
		"PAYMENT_SESSION_TTL":    "20m",
		"ECPAY_MERCHANT_ID":      "3002607",
		"ECPAY_HASH_KEY":         "k",
		"ECPAY_HASH_IV":          "v",
		"LINEPAY_CHANNEL_ID":     "cid",
		"LINEPAY_CHANNEL_SECRET": "csecret",
		"PUBLIC_BASE_URL":        "https://camp.example/",
	} {
		t.Setenv(k, v)
	}
	cfg := Load()
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 10*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, 20*time.Minute, cfg.Booking.PaymentSessionTTL)
	assert.Equal(t, 100, cfg.Booking.SweepBatch)
	assert.Equal(t, "ALL", cfg.ECPay.ChoosePayment)
	assert.Equal(t, "https://camp.example", cfg.PublicBaseURL)
	assert.Empty(t, cfg.DB.Host)
}

func TestRateLimitNormalize(t *testing.T) {
	c := RateLimitConfig{Capacity: 0, RefillTokens: -1, RefillInterval: 0}.normalize()
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 1, c.RefillTokens)
	assert.Equal(t, time.Second, c.RefillInterval)
	assert.Equal(t, 5*time.Second, c.TTL)
}
