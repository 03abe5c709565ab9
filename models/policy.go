package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionMode string

const (
	CommissionModePercentage CommissionMode = "percentage"
	CommissionModeFixed      CommissionMode = "fixed"
)

// PolicyRowID is the primary key of the single authoritative policy row.
const PolicyRowID uint = 1

// CommissionPolicy is the singleton commission configuration. It is replaced
// wholesale; commissions keep their own snapshot of the values they used.
type CommissionPolicy struct {
	ID                    uint            `gorm:"primaryKey" json:"-"`
	CommissionMode        CommissionMode  `gorm:"type:varchar(16);not null" json:"commission_mode"`
	Percentage            decimal.Decimal `gorm:"type:numeric(6,3);not null" json:"percentage"`
	FixedAmount           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"fixed_amount"`
	ReleaseDelayDays      int             `gorm:"not null" json:"release_delay_days"`
	RequireReferredActive bool            `gorm:"not null" json:"require_referred_active"`
	MinWithdrawalAmount   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"min_withdrawal_amount"`
	IsEnabled             bool            `gorm:"not null" json:"is_enabled"`
	UpdatedBy             string          `gorm:"type:varchar(64)" json:"updated_by,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (CommissionPolicy) TableName() string {
	return "commission_policies"
}

// ReleaseDelay is the waiting period between a payment and its commission release.
func (p CommissionPolicy) ReleaseDelay() time.Duration {
	return time.Duration(p.ReleaseDelayDays) * 24 * time.Hour
}
