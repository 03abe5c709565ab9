package models

import "gorm.io/gorm"

// Account statuses mirrored from the profile service.
const (
	AccountStatusActive      = "active"
	AccountStatusSuspended   = "suspended"
	AccountStatusDeactivated = "deactivated"
)

// MemberMirror is a local snapshot of the profile service's user record,
// limited to what the ledger needs: standing and referral attribution.
// Populated by the member sync worker.
type MemberMirror struct {
	ID             string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string  `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string  `gorm:"index" json:"username"`
	AccountStatus  string  `gorm:"type:varchar(32);not null" json:"account_status"`
	Delinquent     bool    `gorm:"not null;default:false" json:"delinquent"`
	ReferredByID   *string `json:"referred_by_id,omitempty"`
	ReferralCode   *string `gorm:"type:varchar(32)" json:"referral_code,omitempty"`

	Timestamps
}

func (m *MemberMirror) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// InGoodStanding reports whether the member is active and not behind on payments.
func (m MemberMirror) InGoodStanding() bool {
	return m.AccountStatus == AccountStatusActive && !m.Delinquent
}
