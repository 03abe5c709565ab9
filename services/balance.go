// services/balance.go
package services

import (
	"context"
	"fmt"

	"referral-commission-service/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceService aggregates spendable balances straight from the ledger.
// Nothing here is cached.
type BalanceService struct {
	DB *gorm.DB
}

func NewBalanceService(db *gorm.DB) *BalanceService {
	return &BalanceService{DB: db}
}

// AvailableBalance is the sum of the user's available commissions that are
// not reserved by a withdrawal request.
func (s *BalanceService) AvailableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return sumCommissions(s.DB.WithContext(ctx).Model(&models.Commission{}).
		Where("referrer_id = ? AND status = ? AND withdrawal_request_id IS NULL",
			userID, models.CommissionStatusAvailable))
}

type BalanceSummary struct {
	UserID    string          `json:"user_id"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
}

// Summary breaks the user's commissions down by where they are in their lifecycle.
func (s *BalanceService) Summary(ctx context.Context, userID string) (*BalanceSummary, error) {
	var rows []models.Commission
	if err := s.DB.WithContext(ctx).
		Select("commission_amount", "status", "withdrawal_request_id").
		Where("referrer_id = ? AND status <> ?", userID, models.CommissionStatusCancelled).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load commissions of %s: %w", userID, err)
	}

	sum := &BalanceSummary{UserID: userID}
	for _, c := range rows {
		switch {
		case c.Status == models.CommissionStatusPending:
			sum.Pending = sum.Pending.Add(c.CommissionAmount)
		case c.Status == models.CommissionStatusAvailable && c.WithdrawalRequestID == nil:
			sum.Available = sum.Available.Add(c.CommissionAmount)
		case c.Status == models.CommissionStatusAvailable:
			sum.Reserved = sum.Reserved.Add(c.CommissionAmount)
		case c.Status == models.CommissionStatusWithdrawn:
			sum.Withdrawn = sum.Withdrawn.Add(c.CommissionAmount)
		}
	}
	return sum, nil
}

func sumCommissions(q *gorm.DB) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := q.Pluck("commission_amount", &amounts).Error; err != nil {
		return decimal.Zero, fmt.Errorf("sum commissions: %w", err)
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}
