// Package handler exposes purchases, receipts, services and gateway callbacks over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"resellbot/internal/fulfillment"
	"resellbot/internal/ledger"
	"resellbot/internal/models"
	"resellbot/internal/panel"
	"resellbot/internal/payment"
	"resellbot/internal/repository"
	"resellbot/internal/settlement"
)

// Handler serves the HTTP surface.
type Handler struct {
	settlement   *settlement.Service
	pipeline     *fulfillment.Pipeline
	requests     *repository.PaymentRequestRepository
	plans        *repository.PlanRepository
	transactions *repository.TransactionRepository
	gateways     *payment.Registry
	logger       *zap.Logger
}

// Repos are the read models served directly by the handler.
type Repos struct {
	Requests     *repository.PaymentRequestRepository
	Plans        *repository.PlanRepository
	Transactions *repository.TransactionRepository
}

func New(s *settlement.Service, p *fulfillment.Pipeline, repos Repos, gateways *payment.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		settlement:   s,
		pipeline:     p,
		requests:     repos.Requests,
		plans:        repos.Plans,
		transactions: repos.Transactions,
		gateways:     gateways,
		logger:       logger,
	}
}

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

// failure maps a domain error to a status and a message safe to show the caller.
// Raw upstream detail stays in the logs and the operator notification.
func (h *Handler) failure(c echo.Context, err error) error {
	code, msg := classify(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return errorResponse(c, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, fulfillment.ErrCompensated):
		return http.StatusBadGateway, fulfillment.ErrCompensated.Error()
	case errors.Is(err, settlement.ErrAlreadyProcessed):
		return http.StatusConflict, "this payment was already processed"
	case errors.Is(err, fulfillment.ErrPlanSoldOut):
		return http.StatusConflict, err.Error()
	case errors.Is(err, fulfillment.ErrPlanNotFound),
		errors.Is(err, fulfillment.ErrServiceNotFound),
		errors.Is(err, settlement.ErrNotFound),
		errors.Is(err, ledger.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, fulfillment.ErrInvalidDiscount),
		errors.Is(err, fulfillment.ErrInvalidSelection),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, payment.ErrUnknownGateway):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, settlement.ErrNotVerified):
		return http.StatusPaymentRequired, settlement.ErrNotVerified.Error()
	case errors.Is(err, settlement.ErrGatewayUnavailable), errors.Is(err, payment.ErrGateway):
		return http.StatusServiceUnavailable, settlement.ErrGatewayUnavailable.Error()
	}
	if kind := panel.Kind(err); kind != nil {
		if kind == panel.ErrNotFound {
			return http.StatusNotFound, kind.Error()
		}
		return http.StatusBadGateway, kind.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func idParam(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
