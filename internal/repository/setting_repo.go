package repository

import (
	"errors"

	"gorm.io/gorm"

	"resellbot/internal/models"
)

// SettingRepository handles the single-row operator settings table.
type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// DB returns the underlying gorm.DB instance.
func (r *SettingRepository) DB() *gorm.DB {
	return r.db
}

// GetSettings returns the settings row, or defaults when it was never seeded.
func (r *SettingRepository) GetSettings() (*models.Setting, error) {
	var setting models.Setting
	err := r.db.Order("id ASC").First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Setting{UsernamePrefix: "user"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// UpdateSetting updates a specific setting field.
func (r *SettingRepository) UpdateSetting(column string, value interface{}) error {
	return r.db.Model(&models.Setting{}).Where("1=1").Update(column, value).Error
}
