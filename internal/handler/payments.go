package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
	"github.com/iliyamo/camp-booking-engine/internal/payment/ecpay"
	"github.com/iliyamo/camp-booking-engine/internal/payment/linepay"
	"github.com/iliyamo/camp-booking-engine/internal/reconcile"
)

// PaymentHandler receives gateway notifications and buyer returns.
type PaymentHandler struct {
	worker *reconcile.Worker
	log    *zap.Logger
}

func NewPaymentHandler(worker *reconcile.Worker, log *zap.Logger) *PaymentHandler {
	if worker == nil {
		panic("nil worker passed to NewPaymentHandler")
	}
	return &PaymentHandler{worker: worker, log: logger(log)}
}

// ECPayNotify handles the server-to-server ReturnURL notification.
// ECPay retries until it reads "1|OK", so the body is acknowledged once
// the outcome is recorded, including duplicates and outcomes flagged for
// review.  Rejected payloads answer "0|<reason>" and change nothing.
func (h *PaymentHandler) ECPayNotify(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return c.String(http.StatusBadRequest, ecpay.AckError("invalid form"))
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	_, err = h.worker.Handle(c.Request().Context(), model.PaymentECPay, payment.Payload{Params: params})
	if err == nil || errors.Is(err, model.ErrConflictingOutcome) {
		return c.String(http.StatusOK, ecpay.AckOK)
	}
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("ecpay notify failed", zap.String("reference", params["MerchantTradeNo"]), zap.Error(err))
	}
	return c.String(status, ecpay.AckError(msg))
}

// LinePayConfirm handles the buyer's return to the confirm URL.
func (h *PaymentHandler) LinePayConfirm(c echo.Context) error {
	return h.linePayReturn(c, linepay.EventConfirm)
}

// LinePayCancel handles the buyer's return to the cancel URL.
func (h *PaymentHandler) LinePayCancel(c echo.Context) error {
	return h.linePayReturn(c, linepay.EventCancel)
}

func (h *PaymentHandler) linePayReturn(c echo.Context, event string) error {
	params := map[string]string{linepay.ParamEvent: event}
	for _, k := range []string{linepay.ParamOrderID, linepay.ParamTransactionID, linepay.ParamSig} {
		params[k] = c.QueryParam(k)
	}
	res, err := h.worker.Handle(c.Request().Context(), model.PaymentLinePay, payment.Payload{Params: params})
	if err != nil {
		return writeError(c, h.log, err)
	}
	o := res.Order
	if o.PaymentStatus != model.PaymentPaid {
		return c.JSON(http.StatusPaymentRequired, echo.Map{
			"error":     msgPaymentNotCompleted,
			"reference": o.Reference,
		})
	}
	return c.JSON(http.StatusOK, newOrderResponse(o))
}
