package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusAvailable CommissionStatus = "available"
	CommissionStatusWithdrawn CommissionStatus = "withdrawn"
	CommissionStatusCancelled CommissionStatus = "cancelled"
)

// Commission is one ledger entry earned by a referrer from a qualifying payment.
// CommissionAmount and the policy snapshot are frozen at creation.
type Commission struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferralID     string `gorm:"type:uuid;index;not null" json:"referral_id"`
	ReferrerID     string `gorm:"index;not null" json:"referrer_id"`
	ReferredID     string `gorm:"index;not null" json:"referred_id"`
	PaymentEventID string `gorm:"type:varchar(191);uniqueIndex;not null" json:"payment_event_id"`

	PaymentAmount                decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"payment_amount"`
	CommissionAmount             decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"commission_amount"`
	CommissionMode               CommissionMode  `gorm:"type:varchar(16);not null" json:"commission_mode"`
	CommissionPercentageSnapshot decimal.Decimal `gorm:"type:numeric(6,3);not null" json:"commission_percentage_snapshot"`

	Status              CommissionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	PaymentDate         time.Time        `gorm:"not null;index" json:"payment_date"`
	ReleaseDate         time.Time        `gorm:"not null;index" json:"release_date"`
	AvailableAt         *time.Time       `gorm:"index" json:"available_at,omitempty"`
	WithdrawalRequestID *string          `gorm:"type:uuid;index" json:"withdrawal_request_id,omitempty"`
	CancelledAt         *time.Time       `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Commission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
