package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/inventory"
	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// OptionHandler serves option availability and operator option creation.
type OptionHandler struct {
	store  repository.Store
	ledger *inventory.Ledger
	log    *zap.Logger
}

// NewOptionHandler panics when a dependency is missing.
func NewOptionHandler(store repository.Store, ledger *inventory.Ledger, log *zap.Logger) *OptionHandler {
	if store == nil || ledger == nil {
		panic("nil dependency passed to NewOptionHandler")
	}
	return &OptionHandler{store: store, ledger: ledger, log: logger(log)}
}

// Availability handles GET /v1/options/:id/availability.
func (h *OptionHandler) Availability(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid option id")
	}
	opt, _, err := h.ledger.Available(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newOptionResponse(opt))
}

type createOptionRequest struct {
	Name       string     `json:"name"`
	Capacity   int        `json:"capacity"`
	UnitPrice  int64      `json:"unit_price"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

// Create handles POST /v1/options for operators.
func (h *OptionHandler) Create(c echo.Context) error {
	var req createOptionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	opt := &model.Option{
		Name:       req.Name,
		Capacity:   req.Capacity,
		UnitPrice:  req.UnitPrice,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
	}
	err := h.store.InTx(c.Request().Context(), func(ctx context.Context, tx repository.Tx) error {
		return h.ledger.CreateOption(ctx, tx, opt)
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, newOptionResponse(opt))
}
