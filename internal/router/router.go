package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"resellbot/internal/handler"
	"resellbot/internal/middleware"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	h *handler.Handler,
	logger *zap.Logger,
	apiKey string,
	hashFilePath string,
	guard middleware.CallbackGuard,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.CORS())

	// API group with auth
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey, hashFilePath))

	apiGroup.POST("/purchases", h.Purchase)
	apiGroup.POST("/topups", h.TopUp)

	apiGroup.GET("/payment-requests", h.PendingReceipts)
	apiGroup.POST("/payment-requests", h.SubmitReceipt)
	apiGroup.POST("/payment-requests/:id/approve", h.Approve)
	apiGroup.POST("/payment-requests/:id/reject", h.Reject)

	apiGroup.GET("/plans", h.Plans)
	apiGroup.GET("/users/:id/transactions", h.UserTransactions)

	apiGroup.GET("/services/:id/usage", h.Usage)
	apiGroup.POST("/services/:id/renew", h.Renew)
	apiGroup.POST("/services/:id/enable", h.Enable)
	apiGroup.POST("/services/:id/disable", h.Disable)
	apiGroup.DELETE("/services/:id", h.Remove)

	// Payment callback routes, one delivery per reference at a time
	paymentGroup := e.Group("/payment")
	paymentGroup.GET("/zarinpal/callback", h.ZarinPalCallback, middleware.CallbackLock(guard, middleware.QueryKey("Authority")))
	paymentGroup.POST("/nowpayments/callback", h.NOWPaymentsCallback, middleware.CallbackLock(guard, middleware.BodyKey("payment_id")))
	paymentGroup.POST("/nowpayment/callback", h.NOWPaymentsCallback, middleware.CallbackLock(guard, middleware.BodyKey("payment_id"))) // legacy alias

	// Health check
	e.GET("/health", h.Health)
}
