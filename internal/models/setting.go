package models

// Setting maps to the `settings` table (single-row operator config).
type Setting struct {
	ID                 uint   `gorm:"column:id;primaryKey" json:"id"`
	RenewalPricePerGB  int64  `gorm:"column:renewal_price_per_gb;default:0" json:"renewal_price_per_gb"`
	RenewalPricePerDay int64  `gorm:"column:renewal_price_per_day;default:0" json:"renewal_price_per_day"`
	UsernamePrefix     string `gorm:"column:username_prefix;size:50;default:user" json:"username_prefix"`
	ReportChatID       string `gorm:"column:report_chat_id;size:100" json:"report_chat_id"`
	SupportContact     string `gorm:"column:support_contact;size:200" json:"support_contact"`
	CardNumber         string `gorm:"column:card_number;size:50" json:"card_number"`
	CardHolder         string `gorm:"column:card_holder;size:200" json:"card_holder"`
}

func (Setting) TableName() string {
	return "settings"
}
