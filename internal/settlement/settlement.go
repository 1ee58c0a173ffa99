// Package settlement confirms that a payment happened and hands it to
// fulfillment exactly once per Transaction or PaymentRequest.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"resellbot/internal/fulfillment"
	"resellbot/internal/ledger"
	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/payment"
	"resellbot/internal/pkg/utils"
	"resellbot/internal/repository"
)

var (
	// ErrAlreadyProcessed is returned to a trigger that lost the pending -> terminal race.
	ErrAlreadyProcessed   = errors.New("payment already processed")
	ErrNotFound           = errors.New("payment not found")
	ErrNotVerified        = errors.New("payment not verified")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable, try again")
)

// Deps collects the collaborators of a Service.
type Deps struct {
	Users        *repository.UserRepository
	Transactions *repository.TransactionRepository
	Requests     *repository.PaymentRequestRepository
	Ledger       *ledger.Ledger
	Pipeline     *fulfillment.Pipeline
	Gateways     *payment.Registry
	Notifier     notify.Notifier
	Events       notify.Publisher
	Logger       *zap.Logger
	Now          func() time.Time
}

// Service runs the three settlement triggers: balance, manual receipt and gateway.
type Service struct {
	users    *repository.UserRepository
	txns     *repository.TransactionRepository
	requests *repository.PaymentRequestRepository
	ledger   *ledger.Ledger
	pipeline *fulfillment.Pipeline
	gateways *payment.Registry
	notifier notify.Notifier
	events   notify.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func New(d Deps) *Service {
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
	if d.Gateways == nil {
		d.Gateways = payment.NewRegistry()
	}
	return &Service{
		users:    d.Users,
		txns:     d.Transactions,
		requests: d.Requests,
		ledger:   d.Ledger,
		pipeline: d.Pipeline,
		gateways: d.Gateways,
		notifier: d.Notifier,
		events:   d.Events,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// CheckoutResult is either a finished purchase (Paid) or a payment the user still has to make.
type CheckoutResult struct {
	Paid         bool                `json:"paid"`
	Quote        *fulfillment.Quote  `json:"quote"`
	Fulfillment  *fulfillment.Result `json:"fulfillment,omitempty"`
	Transaction  *models.Transaction `json:"transaction,omitempty"`
	PaymentURL   string              `json:"payment_url,omitempty"`
	Amount       int64               `json:"amount,omitempty"`
	Instructions string              `json:"instructions,omitempty"`
}

// Checkout fulfills from the wallet when the balance covers the price. Otherwise
// it opens a payment for the deficit on the named gateway.
func (s *Service) Checkout(ctx context.Context, in fulfillment.Intent, gateway string) (*CheckoutResult, error) {
	if _, err := s.users.Ensure(in.UserID, ""); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	q, err := s.pipeline.Quote(ctx, in)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.Balance(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if balance >= q.Final {
		res, err := s.pipeline.Fulfill(ctx, in, fulfillment.Prepaid{})
		if err != nil {
			return &CheckoutResult{Quote: q, Fulfillment: res}, err
		}
		return &CheckoutResult{Paid: true, Quote: q, Fulfillment: res}, nil
	}

	meta := models.PurchaseMetadata{
		Purpose:            models.PurposePurchase,
		PlanID:             in.PlanID,
		DiscountCode:       in.DiscountCode,
		CustomVolumeGB:     in.CustomVolumeGB,
		CustomDurationDays: in.CustomDurationDays,
	}
	res, err := s.open(ctx, in.UserID, q.Final-balance, gateway, meta, "Purchase of "+q.Plan().Name)
	if err != nil {
		return nil, err
	}
	res.Quote = q
	return res, nil
}

// TopUp opens a wallet top-up payment on the named gateway.
func (s *Service) TopUp(ctx context.Context, userID string, amount int64, gateway string) (*CheckoutResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.users.Ensure(userID, ""); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.open(ctx, userID, amount, gateway, models.PurchaseMetadata{Purpose: models.PurposeTopUp}, "Wallet top-up")
}

// open creates the pending Transaction and asks the gateway for a link. Manual
// gateways get instructions instead and are settled through SubmitReceipt.
func (s *Service) open(ctx context.Context, userID string, amount int64, gateway string, meta models.PurchaseMetadata, description string) (*CheckoutResult, error) {
	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return nil, err
	}
	if manual, ok := gw.(payment.Manual); ok {
		text, err := manual.Instructions(ctx, amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return &CheckoutResult{Amount: amount, Instructions: text}, nil
	}

	orderID := utils.GenerateOrderID()
	meta.OrderID = orderID
	txn := &models.Transaction{
		OrderID:  orderID,
		UserID:   userID,
		Amount:   amount,
		Gateway:  gw.Name(),
		Metadata: models.EncodeMetadata(meta),
		Status:   models.StatusPending,
	}
	if err := s.txns.Create(txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	log := s.logger.With(zap.String("order_id", orderID), zap.String("gateway", gw.Name()))

	link, err := gw.CreatePaymentLink(ctx, payment.LinkRequest{
		UserID:      userID,
		OrderID:     orderID,
		Amount:      amount,
		Description: description,
		Metadata:    meta,
	})
	if err != nil {
		log.Error("create payment link failed", zap.Error(err))
		if _, terr := s.txns.Transition(txn.ID, models.StatusFailed, map[string]interface{}{"failure_reason": err.Error()}); terr != nil {
			log.Error("mark transaction failed", zap.Error(terr))
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.txns.Update(txn.ID, map[string]interface{}{"authority": link.Authority, "payment_url": link.URL}); err != nil {
		return nil, fmt.Errorf("save payment link: %w", err)
	}
	txn.Authority, txn.PaymentURL = link.Authority, link.URL
	log.Info("payment opened", zap.Int64("amount", amount), zap.String("authority", link.Authority))
	return &CheckoutResult{Transaction: txn, PaymentURL: link.URL, Amount: amount}, nil
}

// ExpireStale cancels pending Transactions older than olderThan.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.txns.CancelPendingBefore(s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired pending transactions", zap.Int64("count", n))
	}
	return n, nil
}

// intentOf rebuilds the purchase intent stored in payment metadata.
func intentOf(userID string, meta models.PurchaseMetadata) fulfillment.Intent {
	return fulfillment.Intent{
		UserID:             userID,
		PlanID:             meta.PlanID,
		CustomVolumeGB:     meta.CustomVolumeGB,
		CustomDurationDays: meta.CustomDurationDays,
		DiscountCode:       meta.DiscountCode,
	}
}

// settle hands confirmed money to fulfillment, or to the wallet for top-ups.
// It runs once per payment: callers only get here after winning the status transition.
func (s *Service) settle(ctx context.Context, userID string, amount int64, reference string, meta models.PurchaseMetadata, log *zap.Logger) (*fulfillment.Result, error) {
	defer s.publish(ctx, notify.Event{Type: notify.EventSettled, UserID: userID, OrderID: reference, Amount: amount}, log)

	if meta.Purpose != models.PurposePurchase {
		balance, err := s.ledger.Credit(ctx, userID, amount, ledger.Ref{Reason: ledger.ReasonTopUp, ID: reference})
		if err != nil {
			log.Error("credit top-up failed", zap.Error(err))
			s.alert(ctx, log, fmt.Sprintf("Top-up %s of %d for user %s was paid but could not be credited: %v", reference, amount, userID, err))
			return nil, err
		}
		s.tell(ctx, log, userID, fmt.Sprintf("Your wallet was charged with %s toman. Balance: %s toman.",
			utils.FormatNumber(amount), utils.FormatNumber(balance)))
		return nil, nil
	}

	res, err := s.pipeline.Fulfill(ctx, intentOf(userID, meta), fulfillment.Prepaid{Amount: amount, Reference: reference})
	if err != nil && !errors.Is(err, fulfillment.ErrCompensated) {
		// Compensated runs already told both sides. Anything else failed before
		// the debit, so the payment sits in the wallet.
		log.Warn("paid purchase not fulfilled", zap.Error(err))
		s.tell(ctx, log, userID, fmt.Sprintf("Your payment of %s toman was received and added to your wallet, but the purchase could not be completed: %v",
			utils.FormatNumber(amount), err))
	}
	return res, err
}

func (s *Service) tell(ctx context.Context, log *zap.Logger, userID, text string) {
	if err := s.notifier.NotifyUser(ctx, userID, text); err != nil {
		log.Warn("notify user failed", zap.Error(err))
	}
}

func (s *Service) alert(ctx context.Context, log *zap.Logger, text string) {
	if err := s.notifier.NotifyOperator(ctx, text); err != nil {
		log.Warn("notify operator failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, e notify.Event, log *zap.Logger) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		log.Warn("publish event failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
