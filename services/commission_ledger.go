// services/commission_ledger.go
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
	"gorm.io/gorm/clause"
)

// PaymentEvent is a qualifying payment made by a referred user.
type PaymentEvent struct {
	EventID        string          `json:"payment_event_id"`
	ReferredUserID string          `json:"referred_user_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`
}

// IdempotencyKey is the external event id, or a key derived from the payment
// itself when the source does not provide one.
func (e PaymentEvent) IdempotencyKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return fmt.Sprintf("derived:%s:%d:%s", e.ReferredUserID, e.PaidAt.UTC().UnixNano(), e.Amount.String())
}

// CommissionLedger creates, releases and cancels commission entries.
type CommissionLedger struct {
	DB       *gorm.DB
	Policies *PolicyStore
	Standing StandingChecker
	Log      logrus.FieldLogger

	// DeferredAlertAfter is how long past its release date a commission may
	// stay deferred by the standing gate before every scan warns about it.
	DeferredAlertAfter time.Duration
}

func NewCommissionLedger(db *gorm.DB, policies *PolicyStore, standing StandingChecker, log logrus.FieldLogger) *CommissionLedger {
	return &CommissionLedger{
		DB:                 db,
		Policies:           policies,
		Standing:           standing,
		Log:                log,
		DeferredAlertAfter: 30 * 24 * time.Hour,
	}
}

// RecordQualifyingPayment books the commission for a payment by a referred
// user. It returns nil when the payer was not referred or the program is off,
// and the already-booked commission when the event is replayed.
func (l *CommissionLedger) RecordQualifyingPayment(ctx context.Context, ev PaymentEvent) (*models.Commission, error) {
	if ev.ReferredUserID == "" {
		return nil, fmt.Errorf("%w: referred user id is required", ErrInvalidPayment)
	}
	if !ev.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if ev.PaidAt.IsZero() {
		return nil, fmt.Errorf("%w: payment date is required", ErrInvalidPayment)
	}

	key := ev.IdempotencyKey()
	var booked models.Commission
	err := l.DB.WithContext(ctx).Where("payment_event_id = ?", key).First(&booked).Error
	if err == nil {
		return &booked, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("look up payment event %s: %w", key, err)
	}

	policy, open, err := l.Policies.referralsOpen(ctx)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, nil
	}

	paidAt := ev.PaidAt.UTC()
	var out *models.Commission

	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Commission
		err := tx.Where("payment_event_id = ?", key).First(&existing).Error
		if err == nil {
			out = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// The row lock orders this booking against CancelReferral, so a
		// commission is never inserted under a referral cancelled meanwhile.
		var ref models.Referral
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("referred_id = ? AND status IN ?", ev.ReferredUserID,
				[]models.ReferralStatus{models.ReferralStatusPending, models.ReferralStatusActive}).
			Order("created_at ASC, id ASC").
			First(&ref).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if ref.Status == models.ReferralStatusPending {
			if _, err := activateReferral(tx, ref.ID, paidAt); err != nil {
				return err
			}
		}

		amount, pct := ComputeCommission(*policy, ev.Amount)
		c := &models.Commission{
			ReferralID:                   ref.ID,
			ReferrerID:                   ref.ReferrerID,
			ReferredID:                   ref.ReferredID,
			PaymentEventID:               key,
			PaymentAmount:                ev.Amount,
			CommissionAmount:             amount,
			CommissionMode:               policy.CommissionMode,
			CommissionPercentageSnapshot: pct,
			Status:                       models.CommissionStatusPending,
			PaymentDate:                  paidAt,
			ReleaseDate:                  paidAt.Add(policy.ReleaseDelay()),
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		out = c
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// the same event was booked by a concurrent delivery
		var existing models.Commission
		if err := l.DB.WithContext(ctx).Where("payment_event_id = ?", key).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("reload commission for event %s: %w", key, err)
		}
		return &existing, nil
	}
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("record qualifying payment %s: %w", key, err)
	}

	if out != nil {
		l.Log.WithFields(logrus.Fields{
			"commission_id":     out.ID,
			"payment_event_id":  key,
			"referrer_id":       out.ReferrerID,
			"commission_amount": out.CommissionAmount.StringFixed(2),
			"release_date":      out.ReleaseDate.Format(time.RFC3339),
		}).Info("[LEDGER] commission recorded")
	}
	return out, nil
}

// ComputeCommission returns the commission for a payment under p and the
// percentage to snapshot (zero in fixed mode). Amounts are rounded to cents,
// half away from zero.
func ComputeCommission(p models.CommissionPolicy, paymentAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if p.CommissionMode == models.CommissionModeFixed {
		return p.FixedAmount.Round(2), decimal.Zero
	}
	return paymentAmount.Mul(p.Percentage).Div(hundred).Round(2), p.Percentage
}

// CancelPendingCommissionsForReferral cancels the referral's pending entries.
func (l *CommissionLedger) CancelPendingCommissionsForReferral(ctx context.Context, referralID string) (int64, error) {
	var n int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = cancelPendingCommissions(tx, referralID, time.Now().UTC())
		return err
	})
	return n, err
}

func cancelPendingCommissions(tx *gorm.DB, referralID string, at time.Time) (int64, error) {
	res := tx.Model(&models.Commission{}).
		Where("referral_id = ? AND status = ?", referralID, models.CommissionStatusPending).
		Updates(map[string]interface{}{
			"status":       models.CommissionStatusCancelled,
			"cancelled_at": at,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("cancel pending commissions of referral %s: %w", referralID, res.Error)
	}
	return res.RowsAffected, nil
}

// PromoteEligible releases pending commissions whose release date has passed.
// Rows that fail the standing gate stay pending and are re-evaluated on the
// next run; rows whose standing lookup fails are logged and skipped.
func (l *CommissionLedger) PromoteEligible(ctx context.Context, now time.Time) ([]models.Commission, error) {
	now = now.UTC()

	requireStanding := false
	policy, err := l.Policies.GetPolicy(ctx)
	switch {
	case err == nil:
		requireStanding = policy.RequireReferredActive
	case errors.Is(err, ErrConfigMissing):
	default:
		return nil, err
	}

	if n, err := l.cancelOrphanedPending(ctx, now); err != nil {
		return nil, err
	} else if n > 0 {
		l.Log.WithField("cancelled", n).Warn("[RELEASE] cancelled pending commissions of cancelled referrals")
	}

	var due []models.Commission
	if err := l.DB.WithContext(ctx).
		Where("status = ? AND release_date <= ?", models.CommissionStatusPending, now).
		Order("release_date ASC, id ASC").
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("load due commissions: %w", err)
	}

	var (
		promoted []models.Commission
		deferred int
		skipped  int
		standing = map[string]bool{}
	)

	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return promoted, err
		}
		log := l.Log.WithFields(logrus.Fields{"commission_id": c.ID, "referred_id": c.ReferredID})

		if requireStanding {
			good, known := standing[c.ReferredID]
			if !known {
				if l.Standing == nil {
					log.Warn("[RELEASE] no standing checker configured, skipping")
					skipped++
					continue
				}
				good, err = l.Standing.IsInGoodStanding(ctx, c.ReferredID)
				if err != nil {
					log.WithError(err).Warn("[RELEASE] standing lookup failed, skipping")
					skipped++
					continue
				}
				standing[c.ReferredID] = good
			}
			if !good {
				deferred++
				if l.DeferredAlertAfter > 0 && now.Sub(c.ReleaseDate) > l.DeferredAlertAfter {
					log.WithField("overdue", now.Sub(c.ReleaseDate).String()).
						Warn("[RELEASE] commission deferred past alert threshold, referred user not in good standing")
				}
				continue
			}
		}

		res := l.DB.WithContext(ctx).Model(&models.Commission{}).
			Where("id = ? AND status = ?", c.ID, models.CommissionStatusPending).
			Where("referral_id NOT IN (?)", cancelledReferralIDs(l.DB.WithContext(ctx))).
			Updates(map[string]interface{}{
				"status":       models.CommissionStatusAvailable,
				"available_at": now,
			})
		if res.Error != nil {
			log.WithError(res.Error).Error("[RELEASE] promotion failed")
			skipped++
			continue
		}
		if res.RowsAffected == 0 {
			// cancelled, promoted by a concurrent run, or its referral was cancelled
			continue
		}

		at := now
		c.Status = models.CommissionStatusAvailable
		c.AvailableAt = &at
		promoted = append(promoted, c)
	}

	if len(due) > 0 {
		l.Log.WithFields(logrus.Fields{
			"due":      len(due),
			"promoted": len(promoted),
			"deferred": deferred,
			"skipped":  skipped,
		}).Info("[RELEASE] scan complete")
	}
	return promoted, nil
}

func cancelledReferralIDs(db *gorm.DB) *gorm.DB {
	return db.Model(&models.Referral{}).Select("id").Where("status = ?", models.ReferralStatusCancelled)
}

// cancelOrphanedPending cancels pending commissions whose referral is already
// cancelled.
func (l *CommissionLedger) cancelOrphanedPending(ctx context.Context, now time.Time) (int64, error) {
	db := l.DB.WithContext(ctx)
	res := db.Model(&models.Commission{}).
		Where("status = ? AND referral_id IN (?)", models.CommissionStatusPending, cancelledReferralIDs(db)).
		Updates(map[string]interface{}{
			"status":       models.CommissionStatusCancelled,
			"cancelled_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("cancel pending commissions of cancelled referrals: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type CommissionFilter struct {
	ReferrerID string
	ReferralID string
	Status     models.CommissionStatus
	From       *time.Time // payment date, inclusive
	To         *time.Time // payment date, exclusive
	Page       int
	Size       int
}

// ListCommissions returns commissions newest payment first with the total count.
func (l *CommissionLedger) ListCommissions(ctx context.Context, f CommissionFilter) ([]models.Commission, int64, error) {
	q := l.DB.WithContext(ctx).Model(&models.Commission{})
	if f.ReferrerID != "" {
		q = q.Where("referrer_id = ?", f.ReferrerID)
	}
	if f.ReferralID != "" {
		q = q.Where("referral_id = ?", f.ReferralID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("payment_date >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("payment_date < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := normalizePage(f.Page, f.Size)
	var out []models.Commission
	err := q.Order("payment_date DESC, id ASC").Limit(size).Offset((page - 1) * size).Find(&out).Error
	return out, total, err
}
