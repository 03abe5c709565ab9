// services/standing.go
package services

import (
	"context"
	"errors"
	"fmt"

	"referral-commission-service/models"

	"gorm.io/gorm"
)

// StandingChecker answers whether a referred user is in good standing.
type StandingChecker interface {
	IsInGoodStanding(ctx context.Context, userID string) (bool, error)
}

// MemberStandingService reads standing from the local member mirror.
type MemberStandingService struct {
	DB *gorm.DB
}

func NewMemberStandingService(db *gorm.DB) *MemberStandingService {
	return &MemberStandingService{DB: db}
}

// IsInGoodStanding returns ErrNotFound for members that have not been mirrored
// yet, so the release scheduler retries them instead of deferring on a guess.
func (s *MemberStandingService) IsInGoodStanding(ctx context.Context, userID string) (bool, error) {
	var m models.MemberMirror
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("%w: member %s is not mirrored", ErrNotFound, userID)
	}
	if err != nil {
		return false, fmt.Errorf("load member %s: %w", userID, err)
	}
	return m.InGoodStanding(), nil
}
