package repository

import (
	"gorm.io/gorm"

	"resellbot/internal/models"
)

// ServiceRepository handles provisioned services.
type ServiceRepository struct {
	db *gorm.DB
}

func NewServiceRepository(db *gorm.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// FindByID returns a service by primary key.
func (r *ServiceRepository) FindByID(id uint) (*models.Service, error) {
	var svc models.Service
	if err := r.db.First(&svc, id).Error; err != nil {
		return nil, err
	}
	return &svc, nil
}

// FindByOwner lists the services of one user, newest first.
func (r *ServiceRepository) FindByOwner(ownerID string) ([]models.Service, error) {
	var services []models.Service
	err := r.db.Where("owner_id = ?", ownerID).Order("id DESC").Find(&services).Error
	return services, err
}

// UsernameExists reports whether an upstream username is already taken on a server.
func (r *ServiceRepository) UsernameExists(serverID uint, username string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Service{}).
		Where("server_id = ? AND upstream_username = ?", serverID, username).
		Count(&count).Error
	return count > 0, err
}

// Create inserts a service.
func (r *ServiceRepository) Create(svc *models.Service) error {
	return r.db.Create(svc).Error
}

// Update updates service fields.
func (r *ServiceRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Service{ID: id}).Updates(updates).Error
}

// Delete removes a service row.
func (r *ServiceRepository) Delete(id uint) error {
	return r.db.Delete(&models.Service{}, id).Error
}
