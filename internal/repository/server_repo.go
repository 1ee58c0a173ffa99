package repository

import (
	"gorm.io/gorm"

	"resellbot/internal/models"
)

// ServerRepository handles upstream panel server records.
type ServerRepository struct {
	db *gorm.DB
}

func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// FindAll returns every server.
func (r *ServerRepository) FindAll() ([]models.Server, error) {
	var servers []models.Server
	err := r.db.Order("id ASC").Find(&servers).Error
	return servers, err
}

// FindActive returns servers whose status is active.
func (r *ServerRepository) FindActive() ([]models.Server, error) {
	var servers []models.Server
	err := r.db.Where("status = ?", "active").Order("id ASC").Find(&servers).Error
	return servers, err
}

// FindByID returns a server by primary key.
func (r *ServerRepository) FindByID(id uint) (*models.Server, error) {
	var server models.Server
	if err := r.db.First(&server, id).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

// Create inserts a server.
func (r *ServerRepository) Create(server *models.Server) error {
	return r.db.Create(server).Error
}

// Update updates server fields. UpdatedAt moves, which rebuilds its adapter.
func (r *ServerRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Server{ID: id}).Updates(updates).Error
}
