// services/withdrawal_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-commission-service/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type WithdrawalAction string

const (
	WithdrawalApprove WithdrawalAction = "approve"
	WithdrawalReject  WithdrawalAction = "reject"
)

// maxCoverageSteps bounds the exact-sum search over a user's commissions.
const maxCoverageSteps = 200000

// ReceiptArchiver stores a proof of payout for a paid withdrawal and returns
// where it can be fetched.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, w *models.WithdrawalRequest) (string, error)
}

// WithdrawalService turns available commissions into withdrawal requests and
// drives them through approval and payment.
type WithdrawalService struct {
	DB          *gorm.DB
	Policies    *PolicyStore
	Receipts    ReceiptArchiver
	Log         logrus.FieldLogger
	Now         func() time.Time
	MaxAttempts int
}

func NewWithdrawalService(db *gorm.DB, policies *PolicyStore, receipts ReceiptArchiver, log logrus.FieldLogger) *WithdrawalService {
	return &WithdrawalService{
		DB:          db,
		Policies:    policies,
		Receipts:    receipts,
		Log:         log,
		Now:         time.Now,
		MaxAttempts: 3,
	}
}

// RequestWithdrawal reserves whole commissions summing exactly to amount and
// creates a pending request for them, all in one transaction.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, payoutKey, payoutKeyType string) (*models.WithdrawalRequest, error) {
	if userID == "" || payoutKey == "" || payoutKeyType == "" {
		return nil, fmt.Errorf("%w: user, payout key and payout key type are required", ErrInvalidArgument)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount must be positive with at most two decimals", ErrInvalidArgument)
	}

	policy, err := s.Policies.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(policy.MinWithdrawalAmount) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, policy.MinWithdrawalAmount.StringFixed(2))
	}

	now := s.Now().UTC()
	var req *models.WithdrawalRequest

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.Commission
		if err := tx.Where("referrer_id = ? AND status = ? AND withdrawal_request_id IS NULL",
			userID, models.CommissionStatusAvailable).
			Order("available_at ASC, created_at ASC, id ASC").
			Find(&candidates).Error; err != nil {
			return err
		}

		available := decimal.Zero
		for _, c := range candidates {
			available = available.Add(c.CommissionAmount)
		}
		if amount.GreaterThan(available) {
			return fmt.Errorf("%w: available %s", ErrInsufficientBalance, available.StringFixed(2))
		}

		picked := selectExactCoverage(candidates, amount)
		if picked == nil {
			return ErrNoExactCoverage
		}

		req = &models.WithdrawalRequest{
			UserID:        userID,
			Amount:        amount,
			PayoutKey:     payoutKey,
			PayoutKeyType: payoutKeyType,
			Status:        models.WithdrawalStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}

		ids := make([]string, len(picked))
		for i, c := range picked {
			ids[i] = c.ID
		}
		if err := claimCommissions(tx, req.ID, ids); err != nil {
			return err
		}

		claimed, err := sumCommissions(tx.Model(&models.Commission{}).Where("withdrawal_request_id = ?", req.ID))
		if err != nil {
			return err
		}
		if !claimed.Equal(amount) {
			return fmt.Errorf("%w: claimed %s of %s", ErrConcurrentModification, claimed.StringFixed(2), amount.StringFixed(2))
		}

		for i := range picked {
			picked[i].WithdrawalRequestID = &req.ID
		}
		req.Commissions = picked
		return nil
	})
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("request withdrawal for %s: %w", userID, err)
	}

	s.Log.WithFields(logrus.Fields{
		"withdrawal_id": req.ID,
		"user_id":       userID,
		"amount":        amount.StringFixed(2),
		"commissions":   len(req.Commissions),
	}).Info("[WITHDRAWAL] requested")
	return req, nil
}

// RequestWithdrawalWithRetry retries lost reservation races and gives up with
// ErrTemporarilyUnavailable after MaxAttempts.
func (s *WithdrawalService) RequestWithdrawalWithRetry(ctx context.Context, userID string, amount decimal.Decimal, payoutKey, payoutKeyType string) (*models.WithdrawalRequest, error) {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := s.RequestWithdrawal(ctx, userID, amount, payoutKey, payoutKeyType)
		if !errors.Is(err, ErrConcurrentModification) {
			return req, err
		}
		s.Log.WithFields(logrus.Fields{"user_id": userID, "attempt": attempt}).
			Warn("[WITHDRAWAL] reservation race lost, retrying")
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrTemporarilyUnavailable, attempts)
}

// claimCommissions stamps reqID on exactly the given rows, provided none of
// them has been claimed or changed status since it was read.
func claimCommissions(tx *gorm.DB, reqID string, ids []string) error {
	res := tx.Model(&models.Commission{}).
		Where("id IN ? AND status = ? AND withdrawal_request_id IS NULL", ids, models.CommissionStatusAvailable).
		Update("withdrawal_request_id", reqID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("%w: claimed %d of %d commissions", ErrConcurrentModification, res.RowsAffected, len(ids))
	}
	return nil
}

// selectExactCoverage picks commissions summing exactly to target, preferring
// the oldest ones: it tries including each entry in order before skipping it.
// Returns nil when no such subset is found within maxCoverageSteps.
func selectExactCoverage(candidates []models.Commission, target decimal.Decimal) []models.Commission {
	var items []models.Commission
	var cents []int64
	for _, c := range candidates {
		if c.CommissionAmount.IsPositive() {
			items = append(items, c)
			cents = append(cents, c.CommissionAmount.Shift(2).IntPart())
		}
	}
	goal := target.Shift(2).IntPart()

	suffix := make([]int64, len(cents)+1)
	for i := len(cents) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + cents[i]
	}

	var chosen []int
	steps := 0
	var search func(i int, remaining int64) bool
	search = func(i int, remaining int64) bool {
		if remaining == 0 {
			return true
		}
		if i == len(cents) || suffix[i] < remaining || steps >= maxCoverageSteps {
			return false
		}
		steps++
		if cents[i] <= remaining {
			chosen = append(chosen, i)
			if search(i+1, remaining-cents[i]) {
				return true
			}
			chosen = chosen[:len(chosen)-1]
		}
		return search(i+1, remaining)
	}

	if goal <= 0 || !search(0, goal) {
		return nil
	}
	out := make([]models.Commission, len(chosen))
	for i, idx := range chosen {
		out[i] = items[idx]
	}
	return out
}

// ProcessWithdrawal approves or rejects a pending request. Rejecting returns
// the reserved commissions to the user's available balance.
func (s *WithdrawalService) ProcessWithdrawal(ctx context.Context, requestID string, action WithdrawalAction, adminID, reason string) (*models.WithdrawalRequest, error) {
	var target models.WithdrawalStatus
	switch action {
	case WithdrawalApprove:
		target = models.WithdrawalStatusApproved
	case WithdrawalReject:
		target = models.WithdrawalStatusRejected
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	now := s.Now().UTC()
	var released int64

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":       target,
			"processed_by": adminID,
			"processed_at": now,
		}
		if action == WithdrawalReject && reason != "" {
			updates["rejection_reason"] = reason
		}

		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", requestID, models.WithdrawalStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return withdrawalStateError(tx, requestID, models.WithdrawalStatusPending)
		}

		if action == WithdrawalReject {
			rel := tx.Model(&models.Commission{}).
				Where("withdrawal_request_id = ? AND status = ?", requestID, models.CommissionStatusAvailable).
				Update("withdrawal_request_id", nil)
			if rel.Error != nil {
				return rel.Error
			}
			released = rel.RowsAffected
		}
		return nil
	})
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("process withdrawal %s: %w", requestID, err)
	}

	s.Log.WithFields(logrus.Fields{
		"withdrawal_id": requestID,
		"action":        action,
		"admin_id":      adminID,
		"released":      released,
	}).Info("[WITHDRAWAL] processed")
	return s.GetWithdrawal(ctx, requestID)
}

// MarkPaid records the manual payout of an approved request and consumes its
// commissions for good.
func (s *WithdrawalService) MarkPaid(ctx context.Context, requestID, adminID string) (*models.WithdrawalRequest, error) {
	now := s.Now().UTC()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.WithdrawalRequest
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: withdrawal %s", ErrNotFound, requestID)
			}
			return err
		}

		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", requestID, models.WithdrawalStatusApproved).
			Updates(map[string]interface{}{
				"status":  models.WithdrawalStatusPaid,
				"paid_by": adminID,
				"paid_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return withdrawalStateError(tx, requestID, models.WithdrawalStatusApproved)
		}

		if err := tx.Model(&models.Commission{}).
			Where("withdrawal_request_id = ? AND status = ?", requestID, models.CommissionStatusAvailable).
			Update("status", models.CommissionStatusWithdrawn).Error; err != nil {
			return err
		}

		paid, err := sumCommissions(tx.Model(&models.Commission{}).
			Where("withdrawal_request_id = ? AND status = ?", requestID, models.CommissionStatusWithdrawn))
		if err != nil {
			return err
		}
		if !paid.Equal(req.Amount) {
			return fmt.Errorf("withdrawal %s reserves %s but amount is %s", requestID, paid.StringFixed(2), req.Amount.StringFixed(2))
		}
		return nil
	})
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("mark withdrawal %s paid: %w", requestID, err)
	}

	req, err := s.GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	log := s.Log.WithFields(logrus.Fields{
		"withdrawal_id": requestID,
		"admin_id":      adminID,
		"amount":        req.Amount.StringFixed(2),
	})
	log.Info("[WITHDRAWAL] marked paid")

	if s.Receipts != nil {
		url, err := s.Receipts.ArchiveReceipt(ctx, req)
		if err != nil {
			log.WithError(err).Error("[WITHDRAWAL] payout receipt upload failed")
		} else if err := s.DB.WithContext(ctx).Model(&models.WithdrawalRequest{}).
			Where("id = ?", requestID).
			Update("receipt_url", url).Error; err != nil {
			log.WithError(err).Error("[WITHDRAWAL] failed to store receipt url")
		} else {
			req.ReceiptURL = url
		}
	}
	return req, nil
}

func withdrawalStateError(tx *gorm.DB, requestID string, expected models.WithdrawalStatus) error {
	var req models.WithdrawalRequest
	if err := tx.Select("id", "status").First(&req, "id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: withdrawal %s", ErrNotFound, requestID)
		}
		return err
	}
	return fmt.Errorf("%w: withdrawal %s is %s, expected %s", ErrInvalidState, requestID, req.Status, expected)
}

// GetWithdrawal returns a request with its reserved commissions.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, requestID string) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.DB.WithContext(ctx).
		Preload("Commissions", func(db *gorm.DB) *gorm.DB {
			return db.Order("available_at ASC, id ASC")
		}).
		First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: withdrawal %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

type WithdrawalFilter struct {
	UserID string
	Status models.WithdrawalStatus
	Page   int
	Size   int
}

// ListWithdrawals returns requests newest first with the total count.
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]models.WithdrawalRequest, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.WithdrawalRequest{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := normalizePage(f.Page, f.Size)
	var out []models.WithdrawalRequest
	err := q.Order("created_at DESC, id ASC").Limit(size).Offset((page - 1) * size).Find(&out).Error
	return out, total, err
}
