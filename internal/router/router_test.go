package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/camp-booking-engine/internal/booking"
	"github.com/iliyamo/camp-booking-engine/internal/checkout"
	"github.com/iliyamo/camp-booking-engine/internal/handler"
	"github.com/iliyamo/camp-booking-engine/internal/inventory"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
	"github.com/iliyamo/camp-booking-engine/internal/reconcile"
	"github.com/iliyamo/camp-booking-engine/internal/repository/memory"
)

func newEcho(mw Middleware) *echo.Echo {
	store := memory.New()
	ledger := inventory.NewLedger(store, nil)
	bookings := booking.NewService(store, ledger, booking.Options{})
	providers := payment.NewRegistry()
	coord := checkout.NewCoordinator(store, bookings, providers, checkout.Options{})

	e := echo.New()
	RegisterRoutes(e, Handlers{
		Options:  handler.NewOptionHandler(store, ledger, nil),
		Bookings: handler.NewBookingHandler(bookings, nil),
		Orders:   handler.NewOrderHandler(coord, nil),
		Payments: handler.NewPaymentHandler(reconcile.NewWorker(store, coord, providers, nil), nil),
	}, mw, "secret")
	return e
}

func TestRoutesRegistered(t *testing.T) {
	e := newEcho(Middleware{})
	got := map[string]bool{}
	for _, r := range e.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /healthz",
		"GET /v1/options/:id/availability",
		"POST /v1/options",
		"POST /v1/bookings",
		"GET /v1/bookings",
		"GET /v1/bookings/:id",
		"DELETE /v1/bookings/:id",
		"POST /v1/orders",
		"GET /v1/orders/:id",
		"POST /v1/orders/:id/pay",
		"DELETE /v1/orders/:id",
		"POST /v1/payments/ecpay/notify",
		"GET /v1/payments/linepay/confirm",
		"GET /v1/payments/linepay/cancel",
	} {
		assert.True(t, got[want], want)
	}
}

func TestBuyerRoutesNeedToken(t *testing.T) {
	e := newEcho(Middleware{})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bookings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitSkipsGatewayNotify(t *testing.T) {
	hits := 0
	limit := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hits++
			return c.NoContent(http.StatusTooManyRequests)
		}
	}
	e := newEcho(Middleware{RateLimit: limit})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/linepay/confirm", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/ecpay/notify", nil))
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)
}
