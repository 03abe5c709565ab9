// services/referral_codes.go
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"referral-commission-service/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

const (
	codePrefixLen    = 6
	codeIssueRetries = 5
)

// ReferralCodes issues the attribution tokens users share at signup.
type ReferralCodes struct {
	DB *gorm.DB
}

func NewReferralCodes(db *gorm.DB) *ReferralCodes {
	return &ReferralCodes{DB: db}
}

// Issue returns the user's code, creating one from displayName if needed.
func (s *ReferralCodes) Issue(ctx context.Context, userID, displayName string) (*models.ReferralCode, error) {
	if existing, err := s.Get(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	prefix := codePrefix(displayName)
	for attempt := 0; attempt < codeIssueRetries; attempt++ {
		suffix, err := randomDigits(4)
		if err != nil {
			return nil, err
		}
		rc := &models.ReferralCode{UserID: userID, Code: prefix + suffix}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var taken int64
			if err := tx.Model(&models.ReferralCode{}).
				Where("code = ? OR user_id = ?", rc.Code, userID).
				Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return gorm.ErrDuplicatedKey
			}
			return tx.Create(rc).Error
		})
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("issue referral code: %w", err)
		}
		// a concurrent issue for the same user wins
		if existing, getErr := s.Get(ctx, userID); getErr == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("%w: could not allocate a unique referral code", ErrTemporarilyUnavailable)
}

func (s *ReferralCodes) Get(ctx context.Context, userID string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no referral code for user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// codePrefix turns "João Silva" into "JOAOSI"; short or empty names are padded.
func codePrefix(displayName string) string {
	p := strings.ToUpper(strings.ReplaceAll(slug.Make(displayName), "-", ""))
	if len(p) > codePrefixLen {
		p = p[:codePrefixLen]
	}
	if p == "" {
		p = "REF"
	}
	return p
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
