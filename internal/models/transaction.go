package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// PaymentStatus is shared by Transaction and PaymentRequest.
// The only legal transitions are pending -> one of the terminal values.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusRejected  PaymentStatus = "rejected"
	StatusApproved  PaymentStatus = "approved"
)

// Terminal reports whether s can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s != StatusPending
}

const (
	PurposePurchase = "purchase"
	PurposeTopUp    = "topup"
)

// PurchaseMetadata is the JSON payload carried by a Transaction or PaymentRequest.
type PurchaseMetadata struct {
	Purpose            string `json:"purpose"`
	OrderID            string `json:"order_id,omitempty"`
	PlanID             uint   `json:"plan_id,omitempty"`
	DiscountCode       string `json:"discount_code,omitempty"`
	CustomVolumeGB     int    `json:"custom_volume_gb,omitempty"`
	CustomDurationDays int    `json:"custom_duration_days,omitempty"`
}

// EncodeMetadata marshals m for a datatypes.JSON column.
func EncodeMetadata(m PurchaseMetadata) datatypes.JSON {
	raw, _ := json.Marshal(m)
	return datatypes.JSON(raw)
}

// DecodeMetadata reads a metadata column. An empty column decodes to a top-up.
func DecodeMetadata(raw datatypes.JSON) (PurchaseMetadata, error) {
	var m PurchaseMetadata
	if len(raw) == 0 {
		m.Purpose = PurposeTopUp
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	if m.Purpose == "" {
		m.Purpose = PurposeTopUp
	}
	return m, nil
}

// Transaction maps to the `transactions` table: an online gateway payment.
type Transaction struct {
	ID            uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID       string         `gorm:"column:order_id;size:64;uniqueIndex;not null" json:"order_id"`
	UserID        string         `gorm:"column:user_id;size:100;index;not null" json:"user_id"`
	Amount        int64          `gorm:"column:amount;not null" json:"amount"`
	Gateway       string         `gorm:"column:gateway;size:50" json:"gateway"`
	Authority     string         `gorm:"column:authority;size:200;index" json:"authority"`
	RefID         string         `gorm:"column:ref_id;size:200" json:"ref_id"`
	PaymentURL    string         `gorm:"column:payment_url;type:text" json:"payment_url"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	Status        PaymentStatus  `gorm:"column:status;size:20;index;default:pending" json:"status"`
	FailureReason string         `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`
	SettledAt     *time.Time     `gorm:"column:settled_at" json:"settled_at,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// PaymentRequest maps to the `payment_requests` table: a manual (receipt) payment awaiting review.
type PaymentRequest struct {
	ID         uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID     string         `gorm:"column:user_id;size:100;index;not null" json:"user_id"`
	Amount     int64          `gorm:"column:amount;not null" json:"amount"`
	ReceiptRef string         `gorm:"column:receipt_ref;size:300" json:"receipt_ref"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	Status     PaymentStatus  `gorm:"column:status;size:20;index;default:pending" json:"status"`
	ReviewedBy string         `gorm:"column:reviewed_by;size:100" json:"reviewed_by,omitempty"`
	Note       string         `gorm:"column:note;type:text" json:"note,omitempty"`
	ReviewedAt *time.Time     `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (PaymentRequest) TableName() string {
	return "payment_requests"
}
