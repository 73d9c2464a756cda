// Package config loads application configuration from environment
// variables.  A .env file in the working directory is read first when
// present; variables already set in the environment win.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.
type Config struct {
	Env         string // APP_ENV (dev, test, prod)
	Port        string // APP_PORT
	StoreDriver string // STORE_DRIVER mysql|memory
	DB          DBConfig
	JWTSecret   string // JWT_SECRET, verifies buyer tokens
	RabbitMQURL string // RABBITMQ_URL, empty disables notifications

	Booking BookingConfig
	ECPay   ECPayConfig
	LinePay LinePayConfig

	// PublicBaseURL is the externally reachable origin used to build
	// gateway return and notification URLs.
	PublicBaseURL string
}

// DBConfig is the MySQL connection.
type DBConfig struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// BookingConfig controls hold lifetimes and the expiry sweep.
type BookingConfig struct {
	HoldTTL           time.Duration // HOLD_TTL, deadline of a fresh booking
	PaymentSessionTTL time.Duration // PAYMENT_SESSION_TTL, deadline once ordered
	SweepInterval     time.Duration // SWEEP_INTERVAL
	SweepBatch        int           // SWEEP_BATCH
}

// ECPayConfig holds ECPay merchant settings.
type ECPayConfig struct {
	MerchantID    string
	HashKey       string
	HashIV        string
	CheckoutURL   string
	ChoosePayment string
	ClientBackURL string
}

// LinePayConfig holds LINE Pay channel settings.
type LinePayConfig struct {
	ChannelID     string
	ChannelSecret string
	BaseURL       string
	SigningKey    string
	Timeout       time.Duration
}

// Load reads configuration values from the environment.  Required
// variables are enforced by must() and missing values cause the program
// to exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:         envStr("APP_ENV", "dev"),
		Port:        envStr("APP_PORT", "8080"),
		StoreDriver: strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		JWTSecret:   must("JWT_SECRET"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		Booking: BookingConfig{
			HoldTTL:           envDur("HOLD_TTL", 15*time.Minute),
			PaymentSessionTTL: envDur("PAYMENT_SESSION_TTL", 30*time.Minute),
			SweepInterval:     envDur("SWEEP_INTERVAL", 30*time.Second),
			SweepBatch:        envInt("SWEEP_BATCH", 100),
		},
		ECPay: ECPayConfig{
			MerchantID:    must("ECPAY_MERCHANT_ID"),
			HashKey:       must("ECPAY_HASH_KEY"),
			HashIV:        must("ECPAY_HASH_IV"),
			CheckoutURL:   envStr("ECPAY_CHECKOUT_URL", "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"),
			ChoosePayment: envStr("ECPAY_CHOOSE_PAYMENT", "ALL"),
			ClientBackURL: os.Getenv("ECPAY_CLIENT_BACK_URL"),
		},
		LinePay: LinePayConfig{
			ChannelID:     must("LINEPAY_CHANNEL_ID"),
			ChannelSecret: must("LINEPAY_CHANNEL_SECRET"),
			BaseURL:       envStr("LINEPAY_BASE_URL", "https://sandbox-api-pay.line.me"),
			SigningKey:    os.Getenv("LINEPAY_RETURN_SIGNING_KEY"),
			Timeout:       envDur("LINEPAY_TIMEOUT", 10*time.Second),
		},
		PublicBaseURL: strings.TrimRight(must("PUBLIC_BASE_URL"), "/"),
	}
	if cfg.StoreDriver == DriverMySQL {
		cfg.DB = DBConfig{
			User: must("DB_USER"),
			Pass: os.Getenv("DB_PASS"),
			Host: must("DB_HOST"),
			Port: envStr("DB_PORT", "3306"),
			Name: must("DB_NAME"),
		}
	}
	if cfg.Booking.PaymentSessionTTL < cfg.Booking.HoldTTL {
		log.Fatalf("PAYMENT_SESSION_TTL (%s) must not be shorter than HOLD_TTL (%s)",
			cfg.Booking.PaymentSessionTTL, cfg.Booking.HoldTTL)
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
