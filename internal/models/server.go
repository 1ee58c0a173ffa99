package models

import "time"

// PanelType is the closed set of upstream panel families.
type PanelType string

const (
	PanelCookieSession PanelType = "cookie-session"
	PanelBearerToken   PanelType = "bearer-token"
	PanelAPIKey        PanelType = "api-key"
)

// Valid reports whether t names a supported panel family.
func (t PanelType) Valid() bool {
	switch t {
	case PanelCookieSession, PanelBearerToken, PanelAPIKey:
		return true
	}
	return false
}

// Server maps to the `servers` table: one upstream panel deployment.
type Server struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"column:name;size:200;not null" json:"name"`
	PanelType      PanelType `gorm:"column:panel_type;size:32;not null" json:"panel_type"`
	BaseURL        string    `gorm:"column:base_url;size:500;not null" json:"base_url"`
	Username       string    `gorm:"column:username;size:200" json:"username"`
	Password       string    `gorm:"column:password;size:200" json:"-"`
	APIKey         string    `gorm:"column:api_key;size:200" json:"-"`
	SubHost        string    `gorm:"column:sub_host;size:500" json:"sub_host"`
	DefaultInbound string    `gorm:"column:default_inbound;size:100" json:"default_inbound"`
	Status         string    `gorm:"column:status;size:20;default:active" json:"status"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Server) TableName() string {
	return "servers"
}
