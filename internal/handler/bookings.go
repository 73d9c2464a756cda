package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/booking"
	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// BookingHandler serves the buyer's standalone bookings.
type BookingHandler struct {
	bookings *booking.Service
	log      *zap.Logger
}

func NewBookingHandler(bookings *booking.Service, log *zap.Logger) *BookingHandler {
	if bookings == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	return &BookingHandler{bookings: bookings, log: logger(log)}
}

type createBookingRequest struct {
	OptionID uint64        `json:"option_id"`
	Quantity int           `json:"quantity"`
	Contact  model.Contact `json:"contact"`
}

// Create handles POST /v1/bookings.  A successful request holds capacity
// until the returned expires_at.
func (h *BookingHandler) Create(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	var req createBookingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.OptionID == 0 {
		return badRequest(c, "option_id is required")
	}
	req.Contact.Name = strings.TrimSpace(req.Contact.Name)
	if req.Contact.Name == "" {
		return badRequest(c, "contact name is required")
	}
	b, err := h.bookings.Create(c.Request().Context(), booking.CreateInput{
		OptionID: req.OptionID,
		Quantity: req.Quantity,
		BuyerID:  buyerID,
		Contact:  req.Contact,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, newBookingResponse(b))
}

// List handles GET /v1/bookings.
func (h *BookingHandler) List(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	list, err := h.bookings.ListByBuyer(c.Request().Context(), buyerID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]bookingResponse, 0, len(list))
	for i := range list {
		out = append(out, newBookingResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.bookings.Get(c.Request().Context(), id, buyerID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newBookingResponse(b))
}

// Cancel handles DELETE /v1/bookings/:id and releases the held capacity.
func (h *BookingHandler) Cancel(c echo.Context) error {
	buyerID, ok := buyer(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.bookings.Cancel(c.Request().Context(), id, buyerID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newBookingResponse(b))
}
