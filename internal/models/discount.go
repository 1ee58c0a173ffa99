package models

const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

// DiscountCode maps to the `discount_codes` table.
// UsageCount only grows; the code is unusable once it reaches MaxUsage (0 = unlimited).
type DiscountCode struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code       string `gorm:"column:code;size:100;uniqueIndex;not null" json:"code"`
	Type       string `gorm:"column:type;size:20;not null" json:"type"`
	Value      int64  `gorm:"column:value;not null" json:"value"`
	UsageCount int    `gorm:"column:usage_count;default:0" json:"usage_count"`
	MaxUsage   int    `gorm:"column:max_usage;default:0" json:"max_usage"`
	Status     string `gorm:"column:status;size:20;default:active" json:"status"`
}

func (DiscountCode) TableName() string {
	return "discount_codes"
}

// Usable reports whether the code may be applied to a new purchase.
func (d *DiscountCode) Usable() bool {
	if d.Status != "active" {
		return false
	}
	if d.MaxUsage > 0 && d.UsageCount >= d.MaxUsage {
		return false
	}
	return d.Type == DiscountPercent || d.Type == DiscountFixed
}
