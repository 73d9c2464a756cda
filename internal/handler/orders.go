package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/checkout"
	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// OrderHandler serves checkout for the authenticated buyer.
type OrderHandler struct {
	coord *checkout.Coordinator
	log   *zap.Logger
}

func NewOrderHandler(coord *checkout.Coordinator, log *zap.Logger) *OrderHandler {
	if coord == nil {
		panic("nil coordinator passed to NewOrderHandler")
	}
	return &OrderHandler{coord: coord, log: logger(log)}
}

type createOrderRequest struct {
	BookingIDs    []uint64            `json:"booking_ids"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
}

// Create handles POST /v1/orders.
func (h *OrderHandler) Create(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	o, err := h.coord.CreateOrder(c.Request().Context(), buyerID, req.BookingIDs, req.PaymentMethod)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, newOrderResponse(o))
}

// Get handles GET /v1/orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	o, err := h.coord.Get(c.Request().Context(), id, buyerID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newOrderResponse(o))
}

// Pay handles POST /v1/orders/:id/pay.  The response tells the client
// how to send the buyer to the gateway; a second call for the same
// order is rejected with 409.
func (h *OrderHandler) Pay(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	init, err := h.coord.Initiate(c.Request().Context(), id, buyerID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"redirect": init.Redirect})
}

// Cancel handles DELETE /v1/orders/:id.
func (h *OrderHandler) Cancel(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	o, err := h.coord.CancelOrder(c.Request().Context(), id, buyerID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newOrderResponse(o))
}
