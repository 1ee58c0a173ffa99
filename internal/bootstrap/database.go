package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"resellbot/internal/models"
)

// MigrateAndSeed ensures required tables exist and inserts baseline rows for singleton tables.
func MigrateAndSeed(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := seedDefaults(db); err != nil {
		return fmt.Errorf("seed defaults failed: %w", err)
	}
	return nil
}

// AllModels lists every table owned by the service.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.LedgerEntry{},
		&models.Server{},
		&models.Category{},
		&models.Plan{},
		&models.Service{},
		&models.DiscountCode{},
		&models.Transaction{},
		&models.PaymentRequest{},
		&models.Setting{},
	}
}

func seedDefaults(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return ensureDefaultSetting(tx)
	})
}

func ensureDefaultSetting(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&models.Setting{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	row := models.Setting{
		ID:             1,
		UsernamePrefix: "user",
	}
	return tx.Create(&row).Error
}
