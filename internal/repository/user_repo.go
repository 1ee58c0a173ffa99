package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resellbot/internal/models"
)

// UserRepository handles user rows and their ledger history.
// Balance mutations go through the ledger package, never through here.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID finds a user by chat ID.
func (r *UserRepository) FindByID(id string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// Ensure inserts the user when missing and leaves an existing row untouched.
func (r *UserRepository) Ensure(id, username string) (*models.User, error) {
	user := models.User{ID: id, Username: username, Status: "active"}
	if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return nil, err
	}
	return r.FindByID(id)
}

// LedgerEntries returns the audit trail for a user, newest first.
func (r *UserRepository) LedgerEntries(userID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Find(&entries).Error
	return entries, err
}

// LedgerEntriesByReference returns every entry recorded against an order or request id.
func (r *UserRepository) LedgerEntriesByReference(ref string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.Where("reference = ?", ref).Order("id ASC").Find(&entries).Error
	return entries, err
}
