package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusPaid     WithdrawalStatus = "paid"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// WithdrawalRequest holds a set of reserved commissions whose sum equals Amount.
type WithdrawalRequest struct {
	ID            string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string           `gorm:"index;not null" json:"user_id"`
	Amount        decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"amount"`
	PayoutKey     string           `gorm:"type:varchar(140);not null" json:"payout_key"`
	PayoutKeyType string           `gorm:"type:varchar(32);not null" json:"payout_key_type"`
	Status        WithdrawalStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	ProcessedBy     *string    `gorm:"type:varchar(64)" json:"processed_by,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	RejectionReason *string    `gorm:"type:text" json:"rejection_reason,omitempty"`
	PaidBy          *string    `gorm:"type:varchar(64)" json:"paid_by,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	ReceiptURL      string     `gorm:"type:text" json:"receipt_url,omitempty"`

	Commissions []Commission `gorm:"foreignKey:WithdrawalRequestID" json:"commissions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *WithdrawalRequest) BeforeCreate(tx *gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
