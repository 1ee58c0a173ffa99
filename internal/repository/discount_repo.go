package repository

import (
	"strings"

	"gorm.io/gorm"

	"resellbot/internal/models"
)

// DiscountRepository handles discount codes.
type DiscountRepository struct {
	db *gorm.DB
}

func NewDiscountRepository(db *gorm.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// FindByCode looks a code up case-insensitively.
func (r *DiscountRepository) FindByCode(code string) (*models.DiscountCode, error) {
	var d models.DiscountCode
	if err := r.db.Where("LOWER(code) = ?", strings.ToLower(strings.TrimSpace(code))).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a discount code.
func (r *DiscountRepository) Create(d *models.DiscountCode) error {
	return r.db.Create(d).Error
}

// ClaimUse increments usage_count while it stays under max_usage.
// It reports false when the code was exhausted in the meantime.
func (r *DiscountRepository) ClaimUse(id uint) (bool, error) {
	res := r.db.Model(&models.DiscountCode{}).
		Where("id = ? AND (max_usage <= 0 OR usage_count < max_usage)", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
