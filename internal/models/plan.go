package models

import "time"

// Category maps to the `categories` table.
type Category struct {
	ID     uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name   string `gorm:"column:name;size:200;not null" json:"name"`
	Status string `gorm:"column:status;size:20;default:active" json:"status"`
}

func (Category) TableName() string {
	return "categories"
}

// Plan maps to the `plans` table.
// Fixed plans carry VolumeGB/DurationDays and Price. Custom plans carry
// min/max bounds and per-unit prices instead.
type Plan struct {
	ID                  uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ServerID            uint      `gorm:"column:server_id;index;not null" json:"server_id"`
	CategoryID          uint      `gorm:"column:category_id;index" json:"category_id"`
	Name                string    `gorm:"column:name;size:200;not null" json:"name"`
	Price               int64     `gorm:"column:price;default:0" json:"price"`
	VolumeGB            int       `gorm:"column:volume_gb;default:0" json:"volume_gb"`
	DurationDays        int       `gorm:"column:duration_days;default:0" json:"duration_days"`
	CustomVolumeEnabled bool      `gorm:"column:custom_volume_enabled;default:false" json:"custom_volume_enabled"`
	MinVolumeGB         int       `gorm:"column:min_volume_gb;default:0" json:"min_volume_gb"`
	MaxVolumeGB         int       `gorm:"column:max_volume_gb;default:0" json:"max_volume_gb"`
	MinDurationDays     int       `gorm:"column:min_duration_days;default:0" json:"min_duration_days"`
	MaxDurationDays     int       `gorm:"column:max_duration_days;default:0" json:"max_duration_days"`
	PricePerGB          int64     `gorm:"column:price_per_gb;default:0" json:"price_per_gb"`
	PricePerDay         int64     `gorm:"column:price_per_day;default:0" json:"price_per_day"`
	PurchaseLimit       int       `gorm:"column:purchase_limit;default:0" json:"purchase_limit"`
	PurchaseCount       int       `gorm:"column:purchase_count;default:0" json:"purchase_count"`
	IsTest              bool      `gorm:"column:is_test;default:false" json:"is_test"`
	Status              string    `gorm:"column:status;size:20;default:active" json:"status"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}

// HasCapacity reports whether another purchase fits under PurchaseLimit (0 = no limit).
func (p *Plan) HasCapacity() bool {
	return p.PurchaseLimit <= 0 || p.PurchaseCount < p.PurchaseLimit
}
