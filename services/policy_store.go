// services/policy_store.go
package services

import (
	"context"
	"errors"
	"fmt"

	"referral-commission-service/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var hundred = decimal.NewFromInt(100)

// PolicyStore is the configuration store for the single commission policy.
type PolicyStore struct {
	DB    *gorm.DB
	Cache PolicyCache
	Log   logrus.FieldLogger
}

func NewPolicyStore(db *gorm.DB, cache PolicyCache, log logrus.FieldLogger) *PolicyStore {
	return &PolicyStore{DB: db, Cache: cache, Log: log}
}

// GetPolicy returns the current policy or ErrConfigMissing.
func (s *PolicyStore) GetPolicy(ctx context.Context) (*models.CommissionPolicy, error) {
	if s.Cache != nil {
		if p, ok := s.Cache.Get(ctx); ok {
			return p, nil
		}
	}

	var p models.CommissionPolicy
	err := s.DB.WithContext(ctx).First(&p, "id = ?", models.PolicyRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, fmt.Errorf("load commission policy: %w", err)
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, &p)
	}
	return &p, nil
}

// ReplacePolicy validates and stores p as the new authoritative policy.
// Existing commissions keep their snapshots.
func (s *PolicyStore) ReplacePolicy(ctx context.Context, p models.CommissionPolicy, adminID string) (*models.CommissionPolicy, error) {
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}

	p.ID = models.PolicyRowID
	p.UpdatedBy = adminID
	if p.CommissionMode == models.CommissionModeFixed {
		p.Percentage = decimal.Zero
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("store commission policy: %w", err)
	}

	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}

	s.Log.WithFields(logrus.Fields{
		"admin_id":           adminID,
		"mode":               p.CommissionMode,
		"percentage":         p.Percentage.String(),
		"fixed_amount":       p.FixedAmount.String(),
		"release_delay_days": p.ReleaseDelayDays,
		"enabled":            p.IsEnabled,
	}).Info("[POLICY] commission policy replaced")

	return &p, nil
}

// ValidatePolicy enforces the value ranges of a commission policy.
func ValidatePolicy(p models.CommissionPolicy) error {
	switch p.CommissionMode {
	case models.CommissionModePercentage:
		if p.Percentage.IsNegative() || p.Percentage.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidPolicy)
		}
		if !p.Percentage.Equal(p.Percentage.Round(3)) {
			return fmt.Errorf("%w: percentage allows at most three decimals", ErrInvalidPolicy)
		}
	case models.CommissionModeFixed:
	default:
		return fmt.Errorf("%w: unknown commission mode %q", ErrInvalidPolicy, p.CommissionMode)
	}
	if p.FixedAmount.IsNegative() {
		return fmt.Errorf("%w: fixed amount must not be negative", ErrInvalidPolicy)
	}
	if !p.FixedAmount.Equal(p.FixedAmount.Round(2)) {
		return fmt.Errorf("%w: fixed amount allows at most two decimals", ErrInvalidPolicy)
	}
	if p.ReleaseDelayDays < 0 {
		return fmt.Errorf("%w: release delay must not be negative", ErrInvalidPolicy)
	}
	if p.MinWithdrawalAmount.IsNegative() {
		return fmt.Errorf("%w: minimum withdrawal must not be negative", ErrInvalidPolicy)
	}
	if !p.MinWithdrawalAmount.Equal(p.MinWithdrawalAmount.Round(2)) {
		return fmt.Errorf("%w: minimum withdrawal allows at most two decimals", ErrInvalidPolicy)
	}
	return nil
}

// referralsOpen reports whether new referrals and commissions may be created.
// A missing policy means the program is off.
func (s *PolicyStore) referralsOpen(ctx context.Context) (*models.CommissionPolicy, bool, error) {
	p, err := s.GetPolicy(ctx)
	if errors.Is(err, ErrConfigMissing) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, p.IsEnabled, nil
}
