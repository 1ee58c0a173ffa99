// Package ledger owns every change to a user's wallet balance.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resellbot/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrUserNotFound      = errors.New("user not found")
)

// Reasons recorded on ledger entries.
const (
	ReasonPurchase = "purchase"
	ReasonRenewal  = "renewal"
	ReasonPayment  = "payment"
	ReasonRefund   = "refund"
	ReasonTopUp    = "topup"
)

// Ref identifies why a mutation happened and what it belongs to.
type Ref struct {
	Reason string
	ID     string // order id, payment request id, service id
}

// Ledger applies balance mutations atomically with one audit row each.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, logger: logger}
}

// Balance returns the current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var user models.User
	if err := l.db.WithContext(ctx).Select("balance").Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Balance, nil
}

// Debit subtracts amount when the balance covers it. The check and the
// subtraction are one conditional UPDATE, so concurrent debits cannot both pass.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, ref Ref) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND balance >= ?", userID, amount).
			UpdateColumn("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrUserNotFound
			}
			return ErrInsufficientFunds
		}

		var err error
		balance, err = record(tx, userID, -amount, ref)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("ledger debit",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
		zap.String("reason", ref.Reason),
		zap.String("ref", ref.ID))
	return balance, nil
}

// Credit adds amount. It has no balance precondition.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, ref Ref) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("balance", gorm.Expr("balance + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		var err error
		balance, err = record(tx, userID, amount, ref)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("ledger credit",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
		zap.String("reason", ref.Reason),
		zap.String("ref", ref.ID))
	return balance, nil
}

// record reads the post-mutation balance under a row lock and appends the audit entry.
func record(tx *gorm.DB, userID string, delta int64, ref Ref) (int64, error) {
	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "balance").
		Where("id = ?", userID).
		First(&user).Error; err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	entry := models.LedgerEntry{
		UserID:       userID,
		Delta:        delta,
		BalanceAfter: user.Balance,
		Reason:       ref.Reason,
		Reference:    ref.ID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, fmt.Errorf("write ledger entry: %w", err)
	}
	return user.Balance, nil
}
