package repository

import (
	"gorm.io/gorm"

	"resellbot/internal/models"
)

// PlanRepository handles plans and their purchase counters.
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindByID returns a plan by primary key.
func (r *PlanRepository) FindByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindActiveByServer lists sellable plans of one server.
func (r *PlanRepository) FindActiveByServer(serverID uint) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("server_id = ? AND status = ?", serverID, "active").Order("price ASC").Find(&plans).Error
	return plans, err
}

// ReserveSlot increments purchase_count only while it stays within purchase_limit.
// It reports false when the plan is sold out.
func (r *PlanRepository) ReserveSlot(id uint) (bool, error) {
	res := r.db.Model(&models.Plan{}).
		Where("id = ? AND (purchase_limit <= 0 OR purchase_count < purchase_limit)", id).
		UpdateColumn("purchase_count", gorm.Expr("purchase_count + ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSlot gives back a slot taken by ReserveSlot.
func (r *PlanRepository) ReleaseSlot(id uint) error {
	return r.db.Model(&models.Plan{}).
		Where("id = ? AND purchase_count > 0", id).
		UpdateColumn("purchase_count", gorm.Expr("purchase_count - ?", 1)).Error
}
