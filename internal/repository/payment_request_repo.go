package repository

import (
	"time"

	"gorm.io/gorm"

	"resellbot/internal/models"
)

// PaymentRequestRepository handles manual receipt payments awaiting review.
type PaymentRequestRepository struct {
	db *gorm.DB
}

func NewPaymentRequestRepository(db *gorm.DB) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

// Create inserts a payment request.
func (r *PaymentRequestRepository) Create(req *models.PaymentRequest) error {
	return r.db.Create(req).Error
}

// FindByID returns a payment request by primary key.
func (r *PaymentRequestRepository) FindByID(id uint) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	if err := r.db.First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPending lists requests waiting for an operator, oldest first.
func (r *PaymentRequestRepository) FindPending(limit int) ([]models.PaymentRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var reqs []models.PaymentRequest
	err := r.db.Where("status = ?", models.StatusPending).Order("id ASC").Limit(limit).Find(&reqs).Error
	return reqs, err
}

// Review moves a pending request to status in one conditional update.
// It reports false when the request was already reviewed.
func (r *PaymentRequestRepository) Review(id uint, status models.PaymentStatus, reviewer, note string) (bool, error) {
	res := r.db.Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"reviewed_by": reviewer,
			"note":        note,
			"reviewed_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
