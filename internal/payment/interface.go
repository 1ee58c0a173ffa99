package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"resellbot/internal/models"
)

// Gateway names.
const (
	ZarinPal    = "zarinpal"
	NOWPayments = "nowpayments"
	Card        = "card"
)

var (
	ErrUnknownGateway = errors.New("unknown payment gateway")
	ErrGateway        = errors.New("payment gateway error")
)

// LinkRequest describes a payment the user is about to make.
type LinkRequest struct {
	UserID      string
	OrderID     string
	Amount      int64
	Description string
	Metadata    models.PurchaseMetadata
}

// Link is where the user pays. Authority is the gateway's reference for it.
type Link struct {
	URL       string `json:"url"`
	Authority string `json:"authority,omitempty"`
}

// Verification contains the result of a payment verification.
type Verification struct {
	Verified bool   `json:"verified"`
	RefID    string `json:"ref_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Callback is what a gateway redirect or webhook reports.
// OrderID is a lookup hint for gateways that echo the merchant order id.
type Callback struct {
	Reference string
	OrderID   string
}

// Gateway defines the interface for payment gateway implementations.
type Gateway interface {
	// Name returns the gateway identifier.
	Name() string

	// CreatePaymentLink initiates a new payment.
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error)

	// VerifyPayment confirms reference was paid for amount. A declined payment
	// is a Verification with Verified=false; errors are transport failures.
	VerifyPayment(ctx context.Context, reference string, amount int64) (*Verification, error)
}

// Manual is implemented by gateways settled by an operator reviewing a receipt.
type Manual interface {
	Instructions(ctx context.Context, amount int64) (string, error)
}

// SignatureVerifier is implemented by gateways that sign their webhooks.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// Registry resolves gateways by name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Name()] = g
		}
	}
	return r
}

// Get returns the named gateway.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return g, nil
}

// Names lists the configured gateways.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
