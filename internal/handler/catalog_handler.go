package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Plans lists the sellable plans of one server, cheapest first.
func (h *Handler) Plans(c echo.Context) error {
	serverID, err := strconv.ParseUint(c.QueryParam("server_id"), 10, 64)
	if err != nil || serverID == 0 {
		return errorResponse(c, http.StatusBadRequest, "server_id is required")
	}
	plans, err := h.plans.FindActiveByServer(uint(serverID))
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Successful", plans)
}

// UserTransactions lists a user's gateway transactions, newest first.
func (h *Handler) UserTransactions(c echo.Context) error {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		return errorResponse(c, http.StatusBadRequest, "invalid id")
	}
	txns, err := h.transactions.FindByUserID(userID)
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Successful", txns)
}
