package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"resellbot/internal/fulfillment"
	"resellbot/internal/models"
	"resellbot/internal/settlement"
)

type purchaseRequest struct {
	UserID             string `json:"user_id"`
	PlanID             uint   `json:"plan_id"`
	CustomVolumeGB     int    `json:"custom_volume_gb"`
	CustomDurationDays int    `json:"custom_duration_days"`
	DiscountCode       string `json:"discount_code"`
	Gateway            string `json:"gateway"`
}

func (r purchaseRequest) intent() fulfillment.Intent {
	return fulfillment.Intent{
		UserID:             strings.TrimSpace(r.UserID),
		PlanID:             r.PlanID,
		CustomVolumeGB:     r.CustomVolumeGB,
		CustomDurationDays: r.CustomDurationDays,
		DiscountCode:       r.DiscountCode,
	}
}

// Purchase runs Checkout: a direct purchase when the wallet covers it, a payment link otherwise.
func (h *Handler) Purchase(c echo.Context) error {
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.UserID) == "" || req.PlanID == 0 {
		return errorResponse(c, http.StatusBadRequest, "user_id and plan_id are required")
	}

	res, err := h.settlement.Checkout(c.Request().Context(), req.intent(), req.Gateway)
	if err != nil {
		return h.failure(c, err)
	}
	if res.Paid {
		return successResponse(c, "Service created", res)
	}
	return successResponse(c, "Payment required", res)
}

type topUpRequest struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Gateway string `json:"gateway"`
}

// TopUp opens a wallet top-up payment.
func (h *Handler) TopUp(c echo.Context) error {
	var req topUpRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return errorResponse(c, http.StatusBadRequest, "user_id is required")
	}

	res, err := h.settlement.TopUp(c.Request().Context(), strings.TrimSpace(req.UserID), req.Amount, req.Gateway)
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Payment required", res)
}

type receiptRequest struct {
	purchaseRequest
	Amount     int64  `json:"amount"`
	ReceiptRef string `json:"receipt_ref"`
}

// SubmitReceipt records a card-to-card receipt for review.
func (h *Handler) SubmitReceipt(c echo.Context) error {
	var req receiptRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ReceiptRef) == "" {
		return errorResponse(c, http.StatusBadRequest, "user_id and receipt_ref are required")
	}

	meta := models.PurchaseMetadata{
		PlanID:             req.PlanID,
		DiscountCode:       req.DiscountCode,
		CustomVolumeGB:     req.CustomVolumeGB,
		CustomDurationDays: req.CustomDurationDays,
	}
	pr, err := h.settlement.SubmitReceipt(c.Request().Context(), strings.TrimSpace(req.UserID), req.Amount, req.ReceiptRef, meta)
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Receipt submitted", pr)
}

// PendingReceipts lists receipts waiting for review.
func (h *Handler) PendingReceipts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	reqs, err := h.requests.FindPending(limit)
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Successful", reqs)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

// Approve settles a receipt.
func (h *Handler) Approve(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid body")
	}

	res, err := h.settlement.Approve(c.Request().Context(), id, reviewer(req))
	if errors.Is(err, settlement.ErrAlreadyProcessed) {
		return errorResponse(c, http.StatusConflict, "This receipt was already reviewed")
	}
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Receipt approved", res)
}

// Reject declines a receipt.
func (h *Handler) Reject(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid body")
	}

	err = h.settlement.Reject(c.Request().Context(), id, reviewer(req), strings.TrimSpace(req.Reason))
	if errors.Is(err, settlement.ErrAlreadyProcessed) {
		return errorResponse(c, http.StatusConflict, "This receipt was already reviewed")
	}
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Receipt rejected", nil)
}

func reviewer(r reviewRequest) string {
	if s := strings.TrimSpace(r.Reviewer); s != "" {
		return s
	}
	return "api"
}
