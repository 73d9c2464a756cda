// Package router registers the HTTP routes of the booking engine.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/camp-booking-engine/internal/handler"
	"github.com/iliyamo/camp-booking-engine/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Options  *handler.OptionHandler
	Bookings *handler.BookingHandler
	Orders   *handler.OrderHandler
	Payments *handler.PaymentHandler
}

// Middleware holds the Redis-backed middleware.  Nil entries are skipped.
type Middleware struct {
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// RegisterRoutes mounts every route on e.
func RegisterRoutes(e *echo.Echo, h Handlers, mw Middleware, jwtSecret string) {
	e.GET("/healthz", handler.Health)

	// Public availability, cached briefly.
	e.GET("/v1/options/:id/availability", h.Options.Availability, optional(mw.Cache)...)

	auth := middleware.JWTAuth(jwtSecret)

	ops := e.Group("/v1/options", auth, middleware.RequireRole(middleware.RoleOperator))
	ops.POST("", h.Options.Create)

	v1 := e.Group("/v1", auth)
	v1.POST("/bookings", h.Bookings.Create)
	v1.GET("/bookings", h.Bookings.List)
	v1.GET("/bookings/:id", h.Bookings.Get)
	v1.DELETE("/bookings/:id", h.Bookings.Cancel)

	v1.POST("/orders", h.Orders.Create)
	v1.GET("/orders/:id", h.Orders.Get)
	v1.POST("/orders/:id/pay", h.Orders.Pay, optional(mw.RateLimit)...)
	v1.DELETE("/orders/:id", h.Orders.Cancel)

	// Gateway callbacks are authenticated by their signatures, not JWTs.
	// ECPay notifies every merchant from a few shared addresses, so its
	// server-to-server route is not limited per IP; buyer returns are.
	e.POST("/v1/payments/ecpay/notify", h.Payments.ECPayNotify)
	pay := e.Group("/v1/payments", optional(mw.RateLimit)...)
	pay.GET("/linepay/confirm", h.Payments.LinePayConfirm)
	pay.GET("/linepay/cancel", h.Payments.LinePayCancel)
}

func optional(m echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if m == nil {
		return nil
	}
	return []echo.MiddlewareFunc{m}
}
