package models

import (
	"time"

	"gorm.io/gorm"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusActive    ReferralStatus = "active"
	ReferralStatusCancelled ReferralStatus = "cancelled"
)

// Referral tracks who referred whom. A referrer/referred pair is unique.
type Referral struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string `gorm:"index;not null;uniqueIndex:idx_referral_pair" json:"referrer_id"` // ExternalUserID
	ReferredID string `gorm:"index;not null;uniqueIndex:idx_referral_pair" json:"referred_id"` // ExternalUserID

	ReferralCode *string        `gorm:"type:varchar(32)" json:"referral_code,omitempty"`
	Status       ReferralStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ActivatedAt  *time.Time     `json:"activated_at,omitempty"`
	CancelledAt  *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason *string        `gorm:"type:text" json:"cancel_reason,omitempty"`

	Timestamps
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// ReferralCode is the attribution token a user hands out; one per user.
type ReferralCode struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Code      string    `gorm:"uniqueIndex;type:varchar(32);not null" json:"code"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (c *ReferralCode) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
