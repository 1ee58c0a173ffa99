package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Usage returns the live upstream usage of a service.
func (h *Handler) Usage(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	snap, err := h.pipeline.Usage(c.Request().Context(), id)
	if err != nil {
		return h.failure(c, err)
	}
	left, unlimited := snap.Remaining()
	return successResponse(c, "Successful", map[string]interface{}{
		"account":         snap,
		"remaining_bytes": left,
		"unlimited":       unlimited,
	})
}

type renewRequest struct {
	VolumeGB int `json:"volume_gb"`
	Days     int `json:"days"`
}

// Renew extends a service.
func (h *Handler) Renew(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	var req renewRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid body")
	}
	res, err := h.pipeline.Renew(c.Request().Context(), id, req.VolumeGB, req.Days)
	if err != nil {
		return h.failure(c, err)
	}
	return successResponse(c, "Service renewed", res)
}

// Enable turns a service back on.
func (h *Handler) Enable(c echo.Context) error {
	return h.setEnabled(c, true)
}

// Disable turns a service off without deleting it.
func (h *Handler) Disable(c echo.Context) error {
	return h.setEnabled(c, false)
}

func (h *Handler) setEnabled(c echo.Context, enabled bool) error {
	id, err := idParam(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	if err := h.pipeline.SetEnabled(c.Request().Context(), id, enabled); err != nil {
		return h.failure(c, err)
	}
	msg := "Service enabled"
	if !enabled {
		msg = "Service disabled"
	}
	return successResponse(c, msg, nil)
}

// Remove deletes a service upstream and locally.
func (h *Handler) Remove(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.pipeline.RemoveService(c.Request().Context(), id)
	if err != nil {
		return h.failure(c, err)
	}
	msg := "Service removed"
	if res.UpstreamMissing {
		msg = "Service removed (account was already missing on the panel)"
	}
	return successResponse(c, msg, res)
}
