package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resellbot/internal/pkg/httpclient"
	"resellbot/internal/pkg/utils"
	"resellbot/internal/repository"
)

// ZarinPalGateway implements the Gateway interface for ZarinPal.
type ZarinPalGateway struct {
	merchantID  string
	sandbox     bool
	callbackURL string
	apiBase     string
	client      *httpclient.Client
}

func NewZarinPalGateway(merchantID string, sandbox bool, callbackURL string) *ZarinPalGateway {
	z := &ZarinPalGateway{
		merchantID:  merchantID,
		sandbox:     sandbox,
		callbackURL: callbackURL,
		client:      httpclient.New().WithTimeout(30 * time.Second),
	}
	z.apiBase = "https://api.zarinpal.com"
	if sandbox {
		z.apiBase = "https://sandbox.zarinpal.com"
	}
	return z
}

// WithBaseURL points the API calls somewhere else.
func (z *ZarinPalGateway) WithBaseURL(base string) *ZarinPalGateway {
	z.apiBase = strings.TrimRight(base, "/")
	return z
}

func (z *ZarinPalGateway) Name() string {
	return ZarinPal
}

func (z *ZarinPalGateway) paymentURL() string {
	if z.sandbox {
		return "https://sandbox.zarinpal.com/pg/StartPay/"
	}
	return "https://www.zarinpal.com/pg/StartPay/"
}

func (z *ZarinPalGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	body := map[string]interface{}{
		"merchant_id":  z.merchantID,
		"amount":       req.Amount,
		"description":  req.Description,
		"callback_url": z.callbackURL,
		"metadata":     map[string]string{"order_id": req.OrderID},
	}

	resp, err := z.client.Post(ctx, z.apiBase+"/pg/v4/payment/request.json", body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zarinpal create payment failed: %v", ErrGateway, err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: zarinpal parse error (HTTP %d): %v", ErrGateway, resp.StatusCode, err)
	}

	data, ok := result["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: zarinpal unexpected response (HTTP %d): %s", ErrGateway, resp.StatusCode, utils.Excerpt(string(resp.Body), 200))
	}

	authority, _ := data["authority"].(string)
	if authority == "" {
		return nil, fmt.Errorf("%w: zarinpal no authority returned", ErrGateway)
	}

	return &Link{
		URL:       z.paymentURL() + authority,
		Authority: authority,
	}, nil
}

func (z *ZarinPalGateway) VerifyPayment(ctx context.Context, authority string, amount int64) (*Verification, error) {
	body := map[string]interface{}{
		"merchant_id": z.merchantID,
		"amount":      amount,
		"authority":   authority,
	}

	resp, err := z.client.Post(ctx, z.apiBase+"/pg/v4/payment/verify.json", body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zarinpal verify failed: %v", ErrGateway, err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: zarinpal verify parse error (HTTP %d): %v", ErrGateway, resp.StatusCode, err)
	}

	// Declines come back with an empty data array and an errors object.
	data, ok := result["data"].(map[string]interface{})
	if !ok {
		return &Verification{Verified: false, Message: zarinpalError(result)}, nil
	}

	code, _ := data["code"].(float64)
	if code == 100 || code == 101 {
		return &Verification{
			Verified: true,
			RefID:    fmt.Sprintf("%.0f", data["ref_id"]),
		}, nil
	}

	return &Verification{
		Verified: false,
		Message:  fmt.Sprintf("verification failed with code: %.0f", code),
	}, nil
}

func zarinpalError(result map[string]interface{}) string {
	if e, ok := result["errors"].(map[string]interface{}); ok {
		if msg, _ := e["message"].(string); msg != "" {
			return fmt.Sprintf("code %v: %s", e["code"], msg)
		}
	}
	return "invalid response"
}

// NOWPaymentsGateway implements the Gateway interface for NOWPayments (crypto).
type NOWPaymentsGateway struct {
	apiKey      string
	ipnSecret   string
	callbackURL string
	apiBase     string
	client      *httpclient.Client
}

func NewNOWPaymentsGateway(apiKey, ipnSecret, callbackURL string) *NOWPaymentsGateway {
	return &NOWPaymentsGateway{
		apiKey:      apiKey,
		ipnSecret:   ipnSecret,
		callbackURL: callbackURL,
		apiBase:     "https://api.nowpayments.io",
		client: httpclient.New().
			WithTimeout(30*time.Second).
			WithHeader("x-api-key", apiKey),
	}
}

// WithBaseURL points the API calls somewhere else.
func (n *NOWPaymentsGateway) WithBaseURL(base string) *NOWPaymentsGateway {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

func (n *NOWPaymentsGateway) Name() string {
	return NOWPayments
}

func (n *NOWPaymentsGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	body := map[string]interface{}{
		"price_amount":      req.Amount,
		"price_currency":    "usd",
		"order_id":          req.OrderID,
		"order_description": req.Description,
		"ipn_callback_url":  n.callbackURL,
	}

	resp, err := n.client.Post(ctx, n.apiBase+"/v1/invoice", body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: nowpayments create failed: %v", ErrGateway, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: nowpayments create failed (HTTP %d): %s", ErrGateway, resp.StatusCode, utils.Excerpt(string(resp.Body), 200))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: nowpayments parse error: %v", ErrGateway, err)
	}

	invoiceURL, _ := result["invoice_url"].(string)
	if invoiceURL == "" {
		return nil, fmt.Errorf("%w: nowpayments no invoice url returned", ErrGateway)
	}
	return &Link{
		URL:       invoiceURL,
		Authority: idString(result["id"]),
	}, nil
}

func (n *NOWPaymentsGateway) VerifyPayment(ctx context.Context, paymentID string, amount int64) (*Verification, error) {
	resp, err := n.client.Get(ctx, n.apiBase+"/v1/payment/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: nowpayments verify failed: %v", ErrGateway, err)
	}
	if resp.StatusCode == 404 {
		return &Verification{Verified: false, Message: "payment not found"}, nil
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: nowpayments verify failed (HTTP %d)", ErrGateway, resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: nowpayments verify parse error: %v", ErrGateway, err)
	}

	status, _ := result["payment_status"].(string)
	if status != "finished" && status != "confirmed" {
		return &Verification{
			Verified: false,
			Message:  "payment status: " + status,
		}, nil
	}
	if price, ok := result["price_amount"].(float64); ok && int64(price) < amount {
		return &Verification{
			Verified: false,
			Message:  fmt.Sprintf("paid %.2f, expected %d", price, amount),
		}, nil
	}
	return &Verification{
		Verified: true,
		RefID:    idString(result["payment_id"]),
	}, nil
}

// VerifySignature checks an IPN body against its x-nowpayments-sig header:
// HMAC-SHA512 over the JSON with keys sorted. Without a configured secret every
// body is accepted and VerifyPayment remains the only check.
func (n *NOWPaymentsGateway) VerifySignature(body []byte, signature string) bool {
	if n.ipnSecret == "" {
		return true
	}
	canonical, err := canonicalJSON(body)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(n.ipnSecret))
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// canonicalJSON re-encodes body with object keys sorted, numbers untouched and
// no HTML escaping.
func canonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	}
	return ""
}

// CardToCardGateway handles manual card-to-card payments.
type CardToCardGateway struct {
	settings *repository.SettingRepository
}

func NewCardToCardGateway(settings *repository.SettingRepository) *CardToCardGateway {
	return &CardToCardGateway{settings: settings}
}

func (c *CardToCardGateway) Name() string {
	return Card
}

// CreatePaymentLink has no online page to send the user to.
func (c *CardToCardGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	return &Link{}, nil
}

// VerifyPayment always declines: card payments are verified by an operator.
func (c *CardToCardGateway) VerifyPayment(ctx context.Context, reference string, amount int64) (*Verification, error) {
	return &Verification{
		Verified: false,
		Message:  "manual verification required",
	}, nil
}

// Instructions tells the user where to transfer amount.
func (c *CardToCardGateway) Instructions(ctx context.Context, amount int64) (string, error) {
	s, err := c.settings.GetSettings()
	if err != nil {
		return "", err
	}
	if s.CardNumber == "" {
		return "", fmt.Errorf("%w: card number is not configured", ErrGateway)
	}
	text := fmt.Sprintf("Transfer %s toman to card %s", utils.FormatNumber(amount), s.CardNumber)
	if s.CardHolder != "" {
		text += " (" + s.CardHolder + ")"
	}
	return text + ", then send the receipt.", nil
}
