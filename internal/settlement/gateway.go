package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"resellbot/internal/fulfillment"
	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/payment"
	"resellbot/internal/pkg/utils"
)

// GatewayResult is the outcome of a gateway redirect or webhook.
type GatewayResult struct {
	Transaction    *models.Transaction `json:"transaction"`
	AlreadySettled bool                `json:"already_settled"`
	Fulfillment    *fulfillment.Result `json:"fulfillment,omitempty"`
}

// SettleGateway verifies a gateway payment and settles its Transaction once.
// Redeliveries of a completed payment are a success no-op.
func (s *Service) SettleGateway(ctx context.Context, gateway string, cb payment.Callback) (*GatewayResult, error) {
	txn, err := s.locate(cb)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("order_id", txn.OrderID), zap.String("gateway", gateway), zap.String("reference", cb.Reference))

	if txn.Status == models.StatusCompleted {
		log.Info("gateway payment already settled")
		return &GatewayResult{Transaction: txn, AlreadySettled: true}, nil
	}
	if txn.Status.Terminal() {
		if txn.Status == models.StatusCancelled {
			s.alert(ctx, log, fmt.Sprintf("Gateway reported payment %s for cancelled order %s (user %s, %s toman). Check the gateway panel and settle manually.",
				cb.Reference, txn.OrderID, txn.UserID, utils.FormatNumber(txn.Amount)))
		}
		return &GatewayResult{Transaction: txn}, ErrAlreadyProcessed
	}

	if gateway == "" {
		gateway = txn.Gateway
	}
	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return nil, err
	}
	ref := cb.Reference
	if ref == "" {
		ref = txn.Authority
	}

	// Transport failures leave the Transaction pending for the next delivery.
	v, err := gw.VerifyPayment(ctx, ref, txn.Amount)
	if err != nil {
		log.Error("verify payment failed", zap.Error(err))
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	if !v.Verified {
		won, err := s.txns.Transition(txn.ID, models.StatusFailed, map[string]interface{}{"failure_reason": v.Message})
		if err != nil {
			return nil, fmt.Errorf("mark transaction failed: %w", err)
		}
		if won {
			log.Warn("gateway payment declined", zap.String("message", v.Message))
			s.tell(ctx, log, txn.UserID, fmt.Sprintf("Your payment for order %s could not be verified. No money was taken from your wallet.", txn.OrderID))
			s.publish(ctx, notify.Event{Type: notify.EventRejected, UserID: txn.UserID, OrderID: txn.OrderID, Amount: txn.Amount, Detail: v.Message}, log)
		}
		txn.Status, txn.FailureReason = models.StatusFailed, v.Message
		return &GatewayResult{Transaction: txn}, fmt.Errorf("%w: %s", ErrNotVerified, v.Message)
	}

	won, err := s.txns.Transition(txn.ID, models.StatusCompleted, map[string]interface{}{"ref_id": v.RefID})
	if err != nil {
		return nil, fmt.Errorf("complete transaction: %w", err)
	}
	if !won {
		// A concurrent delivery got there first.
		current, err := s.txns.FindByID(txn.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.StatusCompleted {
			return &GatewayResult{Transaction: current, AlreadySettled: true}, nil
		}
		return &GatewayResult{Transaction: current}, ErrAlreadyProcessed
	}
	txn.Status, txn.RefID = models.StatusCompleted, v.RefID
	log.Info("gateway payment verified", zap.String("ref_id", v.RefID), zap.Int64("amount", txn.Amount))

	meta, err := models.DecodeMetadata(txn.Metadata)
	if err != nil {
		log.Warn("unreadable transaction metadata, crediting wallet", zap.Error(err))
		meta = models.PurchaseMetadata{Purpose: models.PurposeTopUp}
	}
	res, err := s.settle(ctx, txn.UserID, txn.Amount, txn.OrderID, meta, log)
	return &GatewayResult{Transaction: txn, Fulfillment: res}, err
}

// locate finds the Transaction a callback belongs to: by gateway authority,
// then by order id, then by the order id embedded in metadata.
func (s *Service) locate(cb payment.Callback) (*models.Transaction, error) {
	if cb.Reference != "" {
		txn, err := s.txns.FindByAuthority(cb.Reference)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	orderIDs := []string{cb.OrderID}
	if cb.OrderID != cb.Reference {
		orderIDs = append(orderIDs, cb.Reference)
	}
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		txn, err := s.txns.FindByOrderID(id)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if txn, err = s.txns.FindByMetadataOrderID(id); err == nil {
			return txn, nil
		}
	}
	return nil, ErrNotFound
}
