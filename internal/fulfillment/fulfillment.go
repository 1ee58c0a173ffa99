// Package fulfillment turns a priced, paid purchase into a provisioned service,
// and returns the money when provisioning fails.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"resellbot/internal/ledger"
	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/panel"
	"resellbot/internal/pkg/utils"
	"resellbot/internal/repository"
)

var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrPlanSoldOut      = errors.New("plan sold out")
	ErrInvalidDiscount  = errors.New("discount code is not valid")
	ErrInvalidSelection = errors.New("invalid volume or duration")
	ErrServiceNotFound  = errors.New("service not found")
	ErrServerNotFound   = errors.New("server not found")

	// ErrCompensated marks a run that took the money, failed to provision and
	// gave the money back. The provisioning cause is wrapped alongside it.
	ErrCompensated = errors.New("payment received, service pending support")
)

// State is a fulfillment state. Callers only ever see StateProvisioned or StateCompensated.
type State string

const (
	StatePriced      State = "priced"
	StateDebited     State = "debited"
	StateProvisioned State = "provisioned"
	StateCompensated State = "compensated"
)

// Prepaid is money that already arrived outside the wallet (gateway or receipt).
// It is credited before the debit so both paths share one flow.
type Prepaid struct {
	Amount    int64
	Reference string
}

// Result is the terminal outcome of a run.
type Result struct {
	State       State            `json:"state"`
	OrderID     string           `json:"order_id"`
	Quote       *Quote           `json:"quote"`
	Service     *models.Service  `json:"service,omitempty"`
	Credentials *notify.Delivery `json:"credentials,omitempty"`
}

// AdapterSource yields the adapter for a server.
type AdapterSource interface {
	For(server *models.Server) (panel.Adapter, error)
}

// Deps collects the collaborators of a Pipeline.
type Deps struct {
	Plans     *repository.PlanRepository
	Servers   *repository.ServerRepository
	Services  *repository.ServiceRepository
	Discounts *repository.DiscountRepository
	Settings  *repository.SettingRepository
	Ledger    *ledger.Ledger
	Panels    AdapterSource
	Notifier  notify.Notifier
	Events    notify.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Pipeline runs purchases through priced -> debited -> provisioned, or compensated.
type Pipeline struct {
	plans     *repository.PlanRepository
	servers   *repository.ServerRepository
	services  *repository.ServiceRepository
	discounts *repository.DiscountRepository
	settings  *repository.SettingRepository
	ledger    *ledger.Ledger
	panels    AdapterSource
	notifier  notify.Notifier
	events    notify.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPipeline(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	fallback := notify.NewLog(d.Logger)
	if d.Notifier == nil {
		d.Notifier = fallback
	}
	if d.Events == nil {
		d.Events = fallback
	}
	return &Pipeline{
		plans:     d.Plans,
		servers:   d.Servers,
		services:  d.Services,
		discounts: d.Discounts,
		settings:  d.Settings,
		ledger:    d.Ledger,
		panels:    d.Panels,
		notifier:  d.Notifier,
		events:    d.Events,
		logger:    d.Logger,
		now:       d.Now,
	}
}

// run tracks one fulfillment as it moves through the states.
type run struct {
	intent   Intent
	quote    *Quote
	orderID  string
	state    State
	reserved bool
	debited  int64
}

// Fulfill prices the intent, takes the money and provisions the account.
// Prepaid money is credited first and stays in the wallet on any later failure.
// Errors returned before the debit mean "try payment again". After the debit,
// a provisioning failure is compensated and reported as ErrCompensated.
func (p *Pipeline) Fulfill(ctx context.Context, in Intent, prepaid Prepaid) (*Result, error) {
	orderID := prepaid.Reference
	if orderID == "" {
		orderID = utils.GenerateOrderID()
	}
	log := p.logger.With(zap.String("order_id", orderID), zap.String("user_id", in.UserID), zap.Uint("plan_id", in.PlanID))

	if prepaid.Amount > 0 {
		if _, err := p.ledger.Credit(ctx, in.UserID, prepaid.Amount, ledger.Ref{Reason: ledger.ReasonPayment, ID: orderID}); err != nil {
			return nil, fmt.Errorf("credit payment: %w", err)
		}
	}

	q, err := p.Quote(ctx, in)
	if err != nil {
		return nil, err
	}
	r := &run{intent: in, quote: q, orderID: orderID, state: StatePriced}

	ok, err := p.plans.ReserveSlot(q.plan.ID)
	if err != nil {
		return nil, fmt.Errorf("reserve plan slot: %w", err)
	}
	if !ok {
		return nil, ErrPlanSoldOut
	}
	r.reserved = true

	if q.Final > 0 {
		if _, err := p.ledger.Debit(ctx, in.UserID, q.Final, ledger.Ref{Reason: ledger.ReasonPurchase, ID: r.orderID}); err != nil {
			p.release(r, log)
			return nil, err
		}
		r.debited = q.Final
	}
	r.state = StateDebited
	log.Info("purchase debited", zap.Int64("amount", q.Final))

	svc, err := p.provision(ctx, r, log)
	if err != nil {
		return p.compensate(ctx, r, err, log)
	}
	r.state = StateProvisioned

	if q.discount != nil {
		claimed, err := p.discounts.ClaimUse(q.discount.ID)
		switch {
		case err != nil:
			log.Error("discount usage not recorded", zap.String("code", q.discount.Code), zap.Error(err))
		case !claimed:
			log.Warn("discount exhausted during purchase, honoured anyway", zap.String("code", q.discount.Code))
		}
	}

	creds := p.credentials(q, svc)
	if err := p.notifier.DeliverService(ctx, in.UserID, *creds); err != nil {
		log.Warn("deliver service failed", zap.Error(err))
	}
	p.publish(ctx, notify.Event{Type: notify.EventProvisioned, UserID: in.UserID, OrderID: r.orderID, ServiceID: svc.ID, Amount: q.Final}, log)
	log.Info("purchase provisioned", zap.Uint("service_id", svc.ID), zap.String("upstream_username", svc.UpstreamUsername))

	return &Result{State: StateProvisioned, OrderID: r.orderID, Quote: q, Service: svc, Credentials: creds}, nil
}

// provision creates the upstream account and persists the local Service row.
func (p *Pipeline) provision(ctx context.Context, r *run, log *zap.Logger) (*models.Service, error) {
	plan := r.quote.plan
	server, err := p.servers.FindByID(plan.ServerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerNotFound, err)
	}
	adapter, err := p.panels.For(server)
	if err != nil {
		return nil, err
	}

	username, err := p.username(server.ID, r.intent.UserID)
	if err != nil {
		return nil, err
	}

	now := p.now()
	req := panel.CreateRequest{
		Identity:    username,
		VolumeBytes: panel.GBToBytes(r.quote.VolumeGB),
		ExpireAt:    panel.DaysFromNow(now, r.quote.DurationDays),
		Note:        fmt.Sprintf("user %s order %s", r.intent.UserID, r.orderID),
	}
	acc, err := adapter.CreateAccount(ctx, req)
	if err != nil {
		if errors.Is(err, panel.ErrNetwork) {
			// The request may have landed upstream before the timeout.
			p.cleanupUpstream(ctx, adapter, username, log)
		}
		return nil, err
	}

	svc := &models.Service{
		OwnerID:          r.intent.UserID,
		ServerID:         server.ID,
		PlanID:           plan.ID,
		UpstreamUsername: username,
		UpstreamID:       acc.ExternalID,
		UpstreamClientID: acc.ClientID,
		UpstreamInbound:  acc.InboundID,
		SubscriptionURL:  acc.SubscriptionURL,
		VolumeGB:         r.quote.VolumeGB,
		ExpireAt:         acc.ExpireAt,
		Price:            r.quote.Final,
		Status:           models.ServiceActive,
	}
	if err := p.services.Create(svc); err != nil {
		p.cleanupUpstream(ctx, adapter, acc.ExternalID, log)
		return nil, fmt.Errorf("persist service: %w", err)
	}
	return svc, nil
}

func (p *Pipeline) cleanupUpstream(ctx context.Context, adapter panel.Adapter, externalID string, log *zap.Logger) {
	err := adapter.DeleteAccount(ctx, externalID)
	if err != nil && !errors.Is(err, panel.ErrNotFound) {
		log.Warn("upstream cleanup failed", zap.String("external_id", externalID), zap.Error(err))
	}
}

// compensate credits the debit back, releases the plan slot and tells both sides.
func (p *Pipeline) compensate(ctx context.Context, r *run, cause error, log *zap.Logger) (*Result, error) {
	log.Error("provisioning failed, compensating", zap.Error(cause))

	var refundErr error
	if r.debited > 0 {
		if _, err := p.ledger.Credit(ctx, r.intent.UserID, r.debited, ledger.Ref{Reason: ledger.ReasonRefund, ID: r.orderID}); err != nil {
			refundErr = err
			log.Error("refund failed", zap.Int64("amount", r.debited), zap.Error(err))
		}
	}
	p.release(r, log)
	r.state = StateCompensated

	if err := p.notifier.NotifyUser(ctx, r.intent.UserID, fmt.Sprintf(
		"Your payment for order %s was received, but the service could not be created yet. The amount is back in your wallet and support has been notified.",
		r.orderID)); err != nil {
		log.Warn("notify user failed", zap.Error(err))
	}

	msg := fmt.Sprintf("Provisioning failed for order %s (user %s, plan %d, amount %d): %s",
		r.orderID, r.intent.UserID, r.quote.plan.ID, r.quote.Final, panel.Describe(cause))
	if refundErr != nil {
		msg += "\nREFUND FAILED: " + refundErr.Error()
	}
	if err := p.notifier.NotifyOperator(ctx, msg); err != nil {
		log.Warn("notify operator failed", zap.Error(err))
	}
	p.publish(ctx, notify.Event{Type: notify.EventCompensated, UserID: r.intent.UserID, OrderID: r.orderID, Amount: r.debited, Detail: panel.Describe(cause)}, log)

	return &Result{State: StateCompensated, OrderID: r.orderID, Quote: r.quote}, fmt.Errorf("%w: %w", ErrCompensated, cause)
}

func (p *Pipeline) release(r *run, log *zap.Logger) {
	if !r.reserved {
		return
	}
	if err := p.plans.ReleaseSlot(r.quote.plan.ID); err != nil {
		log.Error("release plan slot failed", zap.Error(err))
		return
	}
	r.reserved = false
}

// username picks an upstream identity not yet used on the server.
func (p *Pipeline) username(serverID uint, ownerID string) (string, error) {
	settings, err := p.settings.GetSettings()
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	for i := 0; i < 5; i++ {
		name := utils.GenerateUsername(settings.UsernamePrefix, ownerID)
		taken, err := p.services.UsernameExists(serverID, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return "", fmt.Errorf("could not pick a free username for %s", ownerID)
}

func (p *Pipeline) publish(ctx context.Context, e notify.Event, log *zap.Logger) {
	if e.At.IsZero() {
		e.At = p.now()
	}
	if err := p.events.Publish(ctx, e); err != nil {
		log.Warn("publish event failed", zap.String("type", e.Type), zap.Error(err))
	}
}
