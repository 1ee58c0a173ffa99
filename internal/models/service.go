package models

import "time"

const (
	ServiceActive   = "active"
	ServiceDisabled = "disabled"
)

// Service maps to the `services` table: one provisioned upstream account.
type Service struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OwnerID          string    `gorm:"column:owner_id;size:100;index;not null" json:"owner_id"`
	ServerID         uint      `gorm:"column:server_id;index;not null" json:"server_id"`
	PlanID           uint      `gorm:"column:plan_id;index" json:"plan_id"`
	UpstreamUsername string    `gorm:"column:upstream_username;size:200;index;not null" json:"upstream_username"`
	UpstreamID       string    `gorm:"column:upstream_id;size:200" json:"upstream_id"`
	UpstreamClientID string    `gorm:"column:upstream_client_id;size:200" json:"upstream_client_id"`
	UpstreamInbound  string    `gorm:"column:upstream_inbound;size:100" json:"upstream_inbound"`
	SubscriptionURL  string    `gorm:"column:subscription_url;type:text" json:"subscription_url"`
	VolumeGB         int       `gorm:"column:volume_gb;default:0" json:"volume_gb"`
	ExpireAt         int64     `gorm:"column:expire_at;default:0" json:"expire_at"`
	Price            int64     `gorm:"column:price;default:0" json:"price"`
	Status           string    `gorm:"column:status;size:20;default:active" json:"status"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Service) TableName() string {
	return "services"
}
