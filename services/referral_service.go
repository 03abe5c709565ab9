// services/referral_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-commission-service/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReferralService is the referral registry.
type ReferralService struct {
	DB       *gorm.DB
	Policies *PolicyStore
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func NewReferralService(db *gorm.DB, policies *PolicyStore, log logrus.FieldLogger) *ReferralService {
	return &ReferralService{DB: db, Policies: policies, Log: log, Now: time.Now}
}

// RegisterReferral records that referrerID brought in referredID.
func (s *ReferralService) RegisterReferral(ctx context.Context, referrerID, referredID string, code *string) (*models.Referral, error) {
	if referrerID == "" || referredID == "" {
		return nil, fmt.Errorf("%w: referrer and referred ids are required", ErrInvalidArgument)
	}
	if referrerID == referredID {
		return nil, ErrSelfReferral
	}

	_, open, err := s.Policies.referralsOpen(ctx)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrReferralsDisabled
	}

	ref := &models.Referral{
		ReferrerID:   referrerID,
		ReferredID:   referredID,
		ReferralCode: code,
		Status:       models.ReferralStatusPending,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Referral{}).
			Where("referrer_id = ? AND referred_id = ?", referrerID, referredID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateReferral
		}
		return tx.Create(ref).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateReferral
	}
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}

	s.Log.WithFields(logrus.Fields{
		"referral_id": ref.ID,
		"referrer_id": referrerID,
		"referred_id": referredID,
	}).Info("[REFERRAL] registered")
	return ref, nil
}

// RegisterReferralByCode resolves the referrer from a referral code.
func (s *ReferralService) RegisterReferralByCode(ctx context.Context, referredID, code string) (*models.Referral, error) {
	var rc models.ReferralCode
	err := s.DB.WithContext(ctx).Where("code = ?", normalizeCode(code)).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: referral code %q", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve referral code: %w", err)
	}
	return s.RegisterReferral(ctx, rc.UserID, referredID, &rc.Code)
}

// ActivateReferral moves a referral from pending to active. Activating an
// active referral is a no-op.
func (s *ReferralService) ActivateReferral(ctx context.Context, referralID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := activateReferral(tx, referralID, s.Now().UTC())
		return err
	})
}

// activateReferral is shared with the ledger, which activates referrals as a
// side effect of the first qualifying payment.
func activateReferral(tx *gorm.DB, referralID string, at time.Time) (bool, error) {
	res := tx.Model(&models.Referral{}).
		Where("id = ? AND status = ?", referralID, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ReferralStatusActive,
			"activated_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("activate referral: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var ref models.Referral
	if err := tx.First(&ref, "id = ?", referralID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("%w: referral %s", ErrNotFound, referralID)
		}
		return false, err
	}
	if ref.Status == models.ReferralStatusActive {
		return false, nil
	}
	return false, fmt.Errorf("%w: referral %s is %s", ErrInvalidState, referralID, ref.Status)
}

// CancelReferral cancels a pending or active referral together with its
// still-pending commissions. Available and withdrawn commissions stand.
func (s *ReferralService) CancelReferral(ctx context.Context, referralID, reason string) (int64, error) {
	now := s.Now().UTC()
	var cancelled int64

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND status IN ?", referralID,
				[]models.ReferralStatus{models.ReferralStatusPending, models.ReferralStatusActive}).
			Updates(map[string]interface{}{
				"status":        models.ReferralStatusCancelled,
				"cancelled_at":  now,
				"cancel_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var ref models.Referral
			if err := tx.First(&ref, "id = ?", referralID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: referral %s", ErrNotFound, referralID)
				}
				return err
			}
			return fmt.Errorf("%w: referral %s is already %s", ErrInvalidState, referralID, ref.Status)
		}

		n, err := cancelPendingCommissions(tx, referralID, now)
		cancelled = n
		return err
	})
	if err != nil {
		return 0, err
	}

	s.Log.WithFields(logrus.Fields{
		"referral_id":           referralID,
		"reason":                reason,
		"cancelled_commissions": cancelled,
	}).Warn("[REFERRAL] cancelled")
	return cancelled, nil
}

// GetReferral returns a referral by id.
func (s *ReferralService) GetReferral(ctx context.Context, referralID string) (*models.Referral, error) {
	var ref models.Referral
	err := s.DB.WithContext(ctx).First(&ref, "id = ?", referralID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: referral %s", ErrNotFound, referralID)
	}
	return &ref, err
}

type ReferralFilter struct {
	ReferrerID string
	ReferredID string
	Status     models.ReferralStatus
	Page       int
	Size       int
}

// ListReferrals returns referrals newest first with the total count.
func (s *ReferralService) ListReferrals(ctx context.Context, f ReferralFilter) ([]models.Referral, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.Referral{})
	if f.ReferrerID != "" {
		q = q.Where("referrer_id = ?", f.ReferrerID)
	}
	if f.ReferredID != "" {
		q = q.Where("referred_id = ?", f.ReferredID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := normalizePage(f.Page, f.Size)
	var refs []models.Referral
	err := q.Order("created_at DESC").Limit(size).Offset((page - 1) * size).Find(&refs).Error
	return refs, total, err
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}
