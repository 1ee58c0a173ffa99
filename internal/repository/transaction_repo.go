package repository

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resellbot/internal/models"
)

// TransactionRepository handles online gateway payments.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a transaction.
func (r *TransactionRepository) Create(txn *models.Transaction) error {
	return r.db.Create(txn).Error
}

// FindByID returns a transaction by primary key.
func (r *TransactionRepository) FindByID(id uint) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.First(&txn, id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByAuthority returns the transaction a gateway reference was issued for.
func (r *TransactionRepository) FindByAuthority(authority string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.Where("authority = ?", authority).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByOrderID returns a transaction by order ID.
func (r *TransactionRepository) FindByOrderID(orderID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.Where("order_id = ?", orderID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByMetadataOrderID finds a transaction by the order_id embedded in its metadata.
func (r *TransactionRepository) FindByMetadataOrderID(orderID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.Where(datatypes.JSONQuery("metadata").Equals(orderID, "order_id")).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Update updates transaction fields.
func (r *TransactionRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Transaction{ID: id}).Updates(updates).Error
}

// Transition moves a pending transaction to status in one conditional update.
// It reports false when another caller already moved it.
func (r *TransactionRepository) Transition(id uint, status models.PaymentStatus, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": status}
	for k, v := range updates {
		values[k] = v
	}
	if status.Terminal() {
		values["settled_at"] = time.Now()
	}
	res := r.db.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CancelPendingBefore cancels pending transactions created before cutoff.
func (r *TransactionRepository) CancelPendingBefore(cutoff time.Time) (int64, error) {
	res := r.db.Model(&models.Transaction{}).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":         models.StatusCancelled,
			"failure_reason": "expired",
			"settled_at":     time.Now(),
		})
	return res.RowsAffected, res.Error
}

// FindByUserID returns transactions for a specific user.
func (r *TransactionRepository) FindByUserID(userID string) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Find(&txns).Error
	return txns, err
}
