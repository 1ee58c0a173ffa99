package models

import "time"

// User maps to the `users` table.
// Primary key is the chat ID stored as string.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:100" json:"id"`
	Username  string    `gorm:"column:username;size:200" json:"username"`
	Balance   int64     `gorm:"column:balance;default:0;not null" json:"balance"`
	Status    string    `gorm:"column:status;size:20;default:active" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// LedgerEntry maps to the `ledger_entries` table: one row per balance mutation.
type LedgerEntry struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID       string    `gorm:"column:user_id;size:100;index;not null" json:"user_id"`
	Delta        int64     `gorm:"column:delta;not null" json:"delta"`
	BalanceAfter int64     `gorm:"column:balance_after;not null" json:"balance_after"`
	Reason       string    `gorm:"column:reason;size:50" json:"reason"`
	Reference    string    `gorm:"column:reference;size:100;index" json:"reference"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
