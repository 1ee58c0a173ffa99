package settlement

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"resellbot/internal/fulfillment"
	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/pkg/utils"
)

// SubmitReceipt records a manual payment for an operator to review.
func (s *Service) SubmitReceipt(ctx context.Context, userID string, amount int64, receiptRef string, meta models.PurchaseMetadata) (*models.PaymentRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.users.Ensure(userID, ""); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if meta.Purpose == "" {
		meta.Purpose = models.PurposeTopUp
		if meta.PlanID != 0 {
			meta.Purpose = models.PurposePurchase
		}
	}

	req := &models.PaymentRequest{
		UserID:     userID,
		Amount:     amount,
		ReceiptRef: receiptRef,
		Metadata:   models.EncodeMetadata(meta),
		Status:     models.StatusPending,
	}
	if err := s.requests.Create(req); err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}

	log := s.logger.With(zap.Uint("payment_request_id", req.ID), zap.String("user_id", userID))
	log.Info("receipt submitted", zap.Int64("amount", amount))
	s.alert(ctx, log, fmt.Sprintf("New receipt #%d from user %s: %s toman (%s).", req.ID, userID, utils.FormatNumber(amount), meta.Purpose))
	return req, nil
}

// Approve settles a receipt. Only the first reviewer wins; later calls get ErrAlreadyProcessed.
func (s *Service) Approve(ctx context.Context, id uint, reviewer string) (*fulfillment.Result, error) {
	req, err := s.requests.FindByID(id)
	if err != nil {
		return nil, notFound(err)
	}
	won, err := s.requests.Review(id, models.StatusApproved, reviewer, "")
	if err != nil {
		return nil, fmt.Errorf("review payment request: %w", err)
	}
	if !won {
		return nil, ErrAlreadyProcessed
	}

	log := s.logger.With(zap.Uint("payment_request_id", id), zap.String("user_id", req.UserID), zap.String("reviewer", reviewer))
	log.Info("receipt approved", zap.Int64("amount", req.Amount))

	meta, err := models.DecodeMetadata(req.Metadata)
	if err != nil {
		// The money is real, so unreadable metadata settles as a top-up.
		log.Warn("unreadable payment request metadata, crediting wallet", zap.Error(err))
		meta = models.PurchaseMetadata{Purpose: models.PurposeTopUp}
	}
	return s.settle(ctx, req.UserID, req.Amount, requestRef(id), meta, log)
}

// Reject declines a receipt. It has no ledger effect.
func (s *Service) Reject(ctx context.Context, id uint, reviewer, reason string) error {
	req, err := s.requests.FindByID(id)
	if err != nil {
		return notFound(err)
	}
	won, err := s.requests.Review(id, models.StatusRejected, reviewer, reason)
	if err != nil {
		return fmt.Errorf("review payment request: %w", err)
	}
	if !won {
		return ErrAlreadyProcessed
	}

	log := s.logger.With(zap.Uint("payment_request_id", id), zap.String("user_id", req.UserID), zap.String("reviewer", reviewer))
	log.Info("receipt rejected", zap.String("reason", reason))

	text := fmt.Sprintf("Your payment receipt #%d for %s toman was rejected.", id, utils.FormatNumber(req.Amount))
	if reason != "" {
		text += " Reason: " + reason
	}
	s.tell(ctx, log, req.UserID, text)
	s.publish(ctx, notify.Event{Type: notify.EventRejected, UserID: req.UserID, OrderID: requestRef(id), Amount: req.Amount, Detail: reason}, log)
	return nil
}

// requestRef is the ledger reference of a payment request.
func requestRef(id uint) string {
	return fmt.Sprintf("PR-%d", id)
}
