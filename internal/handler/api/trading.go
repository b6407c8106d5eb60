package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/internal/usecase"
	xhttp "TradePilot/pkg/http"
	"TradePilot/pkg/logger"
)

// TradingHandler exposes health probes and a small operational API
// over the tracker and ledger: inspect positions and orders, place a
// manual order, request a cancel.
type TradingHandler struct {
	logger    *logger.Logger
	store     drepo.OrderStore
	ledger    *usecase.PositionLedger
	tracker   *usecase.OrderTracker
	accountID string
}

// NewTradingHandler creates the handler.
func NewTradingHandler(lgr *logger.Logger, store drepo.OrderStore, ledger *usecase.PositionLedger, tracker *usecase.OrderTracker, accountID string) *TradingHandler {
	return &TradingHandler{
		logger:    lgr,
		store:     store,
		ledger:    ledger,
		tracker:   tracker,
		accountID: accountID,
	}
}

// RegisterRoutes wires the handler into Echo.
func (h *TradingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)

	g := e.Group("/api/v1")
	g.GET("/account", h.GetAccount)
	g.GET("/decisions", h.ListDecisions)
	g.GET("/orders/:id", h.GetOrder)
	g.POST("/orders", h.PlaceOrder)
	g.DELETE("/orders/:id", h.CancelOrder)
}

// Healthz is the liveness probe.
func (h *TradingHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness, checking the audit store connection.
func (h *TradingHandler) Readyz(c echo.Context) error {
	if err := h.store.Health(c.Request().Context()); err != nil {
		h.logger.Warn("readiness check failed", logger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// GetAccount returns the account snapshot with all positions.
func (h *TradingHandler) GetAccount(c echo.Context) error {
	state, err := h.ledger.GetAccountState(c.Request().Context(), h.accountID)
	if err != nil {
		return xhttp.NotFoundResponse(c, err.Error())
	}
	return xhttp.SuccessResponse(c, state)
}

// ListDecisions returns recent risk decision audit rows. Supports
// ?symbol=, ?since= (RFC3339 or unix seconds), ?limit=.
func (h *TradingHandler) ListDecisions(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	since := xhttp.ParseTimeDefault(c.QueryParam("since"), time.Now().Add(-24*time.Hour))

	records, err := h.store.ListDecisions(c.Request().Context(), c.QueryParam("symbol"), since, limit)
	if err != nil {
		h.logger.Error("list decisions", logger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, records)
}

// GetOrder returns the tracked order by id.
func (h *TradingHandler) GetOrder(c echo.Context) error {
	o, err := h.tracker.Get(c.Param("id"))
	if err != nil {
		return xhttp.NotFoundResponse(c, err.Error())
	}
	return xhttp.SuccessResponse(c, o)
}

// PlaceOrder creates and submits a manual order, bypassing signal
// fusion but not the lifecycle tracker.
func (h *TradingHandler) PlaceOrder(c echo.Context) error {
	var req models.OrderRequest
	if verr := xhttp.ReadAndValidateRequest(c, &req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	req.AccountID = h.accountID

	o, err := h.tracker.Create(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return xhttp.BadRequestResponse(c, err.Error())
		}
		h.logger.Error("manual order create", logger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	if err := h.tracker.Submit(c.Request().Context(), o.ID); err != nil {
		h.logger.Error("manual order submit", logger.Error(err), logger.String("order_id", o.ID))
	}

	placed, err := h.tracker.Get(o.ID)
	if err != nil {
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.CreatedResponse(c, placed)
}

// CancelOrder requests cooperative cancellation.
func (h *TradingHandler) CancelOrder(c echo.Context) error {
	if err := h.tracker.RequestCancel(c.Request().Context(), c.Param("id")); err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownOrder):
			return xhttp.NotFoundResponse(c, err.Error())
		case errors.Is(err, models.ErrTerminalOrder), errors.Is(err, models.ErrValidation):
			return xhttp.BadRequestResponse(c, err.Error())
		default:
			h.logger.Error("cancel order", logger.Error(err), logger.String("order_id", c.Param("id")))
			return xhttp.InternalServerErrorResponse(c)
		}
	}
	return xhttp.NoContentResponse(c)
}
