package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"resellbot/internal/fulfillment"
	"resellbot/internal/payment"
	"resellbot/internal/pkg/utils"
	"resellbot/internal/settlement"
)

var resultPage = template.Must(template.New("payment").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payment</title>
    <style>
        body { font-family: Tahoma, sans-serif; background: #f2f2f2; margin: 0; padding: 20px; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        .box { background: #fff; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); padding: 40px; text-align: center; max-width: 400px; width: 100%; }
        h1 { color: #333; margin-bottom: 20px; }
        p { color: #666; margin-bottom: 10px; }
    </style>
</head>
<body>
    <div class="box">
        <h1>{{.Title}}</h1>
        {{if .OrderID}}<p>Order: <span>{{.OrderID}}</span></p>{{end}}
        {{if .Amount}}<p>Amount: <span>{{.AmountStr}}</span> toman</p>{{end}}
        <p>{{.Message}}</p>
    </div>
</body>
</html>`))

// ZarinPalCallback handles the user's redirect back from ZarinPal.
func (h *Handler) ZarinPalCallback(c echo.Context) error {
	authority := c.QueryParam("Authority")
	if authority == "" {
		return renderPaymentResult(c, "Error", "Invalid parameters", "", 0)
	}
	if c.QueryParam("Status") != "OK" {
		return renderPaymentResult(c, "Payment not completed", "The payment was cancelled.", "", 0)
	}

	res, err := h.settlement.SettleGateway(c.Request().Context(), payment.ZarinPal, payment.Callback{Reference: authority})
	var orderID string
	var amount int64
	if res != nil && res.Transaction != nil {
		orderID, amount = res.Transaction.OrderID, res.Transaction.Amount
	}

	switch {
	case err == nil && res.AlreadySettled:
		return renderPaymentResult(c, "Payment successful", "This payment was already settled.", orderID, amount)
	case err == nil:
		return renderPaymentResult(c, "Payment successful", "Thank you! Your order is complete.", orderID, amount)
	case errors.Is(err, fulfillment.ErrCompensated):
		return renderPaymentResult(c, "Payment received", "Your payment was received, but the service could not be created yet. Support has been notified.", orderID, amount)
	case errors.Is(err, settlement.ErrNotVerified):
		return renderPaymentResult(c, "Payment failed", "The payment could not be verified.", orderID, amount)
	case errors.Is(err, settlement.ErrAlreadyProcessed):
		return renderPaymentResult(c, "Payment", "This payment was already processed.", orderID, amount)
	case errors.Is(err, settlement.ErrNotFound):
		return renderPaymentResult(c, "Error", "Transaction not found.", "", 0)
	}

	h.logger.Error("zarinpal settlement failed", zap.String("authority", authority), zap.Error(err))
	if res != nil && res.Transaction != nil {
		// Verified and settled, but the purchase itself did not go through.
		return renderPaymentResult(c, "Payment received", "Your payment was received. Check the bot for details.", orderID, amount)
	}
	return renderPaymentResult(c, "Error", "Could not verify the payment, please try again later.", orderID, amount)
}

type ipnPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
}

// NOWPaymentsCallback handles NOWPayments IPN webhooks.
func (h *Handler) NOWPaymentsCallback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	gw, err := h.gateways.Get(payment.NOWPayments)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "gateway disabled"})
	}
	if v, ok := gw.(payment.SignatureVerifier); ok && !v.VerifySignature(body, c.Request().Header.Get("x-nowpayments-sig")) {
		h.logger.Warn("nowpayments ipn signature mismatch", zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var ipn ipnPayload
	if err := json.Unmarshal(body, &ipn); err != nil || ipn.PaymentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if ipn.PaymentStatus != "finished" && ipn.PaymentStatus != "confirmed" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	res, err := h.settlement.SettleGateway(c.Request().Context(), payment.NOWPayments, payment.Callback{
		Reference: ipn.PaymentID.String(),
		OrderID:   ipn.OrderID,
	})
	switch {
	case err == nil && res.AlreadySettled:
		return c.JSON(http.StatusOK, map[string]string{"status": "already_settled"})
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, settlement.ErrAlreadyProcessed):
		return c.JSON(http.StatusOK, map[string]string{"status": "already_processed"})
	case errors.Is(err, settlement.ErrNotVerified):
		return c.JSON(http.StatusOK, map[string]string{"status": "failed"})
	case errors.Is(err, settlement.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "transaction not found"})
	case res != nil:
		// Settled; the purchase failure was reported to the user and operator.
		h.logger.Warn("nowpayments settled without fulfillment", zap.String("payment_id", ipn.PaymentID.String()), zap.Error(err))
		return c.JSON(http.StatusOK, map[string]string{"status": "settled"})
	}

	h.logger.Error("nowpayments settlement failed", zap.String("payment_id", ipn.PaymentID.String()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "try again"})
}

func renderPaymentResult(c echo.Context, title, message, orderID string, amount int64) error {
	data := map[string]interface{}{
		"Title":     title,
		"Message":   message,
		"OrderID":   orderID,
		"Amount":    amount > 0,
		"AmountStr": utils.FormatNumber(amount),
	}

	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	if err := resultPage.Execute(c.Response().Writer, data); err != nil {
		return fmt.Errorf("render payment result: %w", err)
	}
	return nil
}
