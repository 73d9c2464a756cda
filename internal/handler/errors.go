// Package handler exposes the booking engine over HTTP.  Handlers parse
// and validate input, call one service operation and translate its
// result; every error response goes through writeError.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/middleware"
	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
)

const msgPaymentNotCompleted = "payment not completed"

type errorMapping struct {
	target  error
	status  int
	message string // empty means the sentinel's own text
}

// errorTable is checked in order with errors.Is.
var errorTable = []errorMapping{
	{model.ErrInsufficientCapacity, http.StatusConflict, "sold out"},
	{model.ErrOptionExpired, http.StatusGone, "option no longer available"},

	{model.ErrInvalidQuantity, http.StatusBadRequest, ""},
	{model.ErrInvalidOption, http.StatusBadRequest, ""},
	{model.ErrEmptyCart, http.StatusBadRequest, ""},
	{model.ErrMixedOwner, http.StatusBadRequest, ""},
	{model.ErrUnsupportedMethod, http.StatusBadRequest, ""},
	{model.ErrSignatureInvalid, http.StatusBadRequest, ""},
	{payment.ErrMalformedPayload, http.StatusBadRequest, ""},

	{model.ErrOptionNotFound, http.StatusNotFound, ""},
	{model.ErrBookingNotFound, http.StatusNotFound, ""},
	{model.ErrOrderNotFound, http.StatusNotFound, ""},
	{model.ErrHoldNotFound, http.StatusNotFound, ""},

	{model.ErrForbidden, http.StatusForbidden, ""},

	{model.ErrAlreadyInitiated, http.StatusConflict, ""},
	{model.ErrInvalidTransition, http.StatusConflict, ""},
	{model.ErrBookingInOrder, http.StatusConflict, ""},

	{model.ErrAmountMismatch, http.StatusPaymentRequired, msgPaymentNotCompleted},
	{model.ErrConflictingOutcome, http.StatusConflict, msgPaymentNotCompleted},
	{payment.ErrProviderRejected, http.StatusBadGateway, msgPaymentNotCompleted},
}

// classify returns the HTTP status and client message for err.
func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			if m.message == "" {
				return m.status, m.target.Error()
			}
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError translates a service error into a JSON response.  Internal
// errors are logged; their text never reaches the client.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.String("route", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// buyer returns the authenticated buyer or writes a 401.
func buyer(c echo.Context) (uint64, bool) {
	id, ok := middleware.BuyerID(c)
	if !ok {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return id, ok
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func logger(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
