package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"referral-commission-service/models"
	"referral-commission-service/utils"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var day0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func days(n int) time.Time {
	return day0.Add(time.Duration(n) * 24 * time.Hour)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// newTestDB opens a migrated in-memory database. A single connection keeps
// the database alive and serializes transactions.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

type fakeStanding struct {
	mu    sync.Mutex
	good  map[string]bool
	errs  map[string]error
	calls int
}

func newFakeStanding() *fakeStanding {
	return &fakeStanding{good: map[string]bool{}, errs: map[string]error{}}
}

func (f *fakeStanding) set(userID string, good bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.good[userID] = good
}

func (f *fakeStanding) IsInGoodStanding(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[userID]; err != nil {
		return false, err
	}
	return f.good[userID], nil
}

type fixture struct {
	db          *gorm.DB
	policies    *PolicyStore
	referrals   *ReferralService
	codes       *ReferralCodes
	ledger      *CommissionLedger
	balances    *BalanceService
	withdrawals *WithdrawalService
	standing    *fakeStanding
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := utils.DiscardLogger()

	policies := NewPolicyStore(db, NewMemoryPolicyCache(time.Minute), log)
	standing := newFakeStanding()

	f := &fixture{
		db:          db,
		policies:    policies,
		referrals:   NewReferralService(db, policies, log),
		codes:       NewReferralCodes(db),
		ledger:      NewCommissionLedger(db, policies, standing, log),
		balances:    NewBalanceService(db),
		withdrawals: NewWithdrawalService(db, policies, nil, log),
		standing:    standing,
	}
	f.referrals.Now = func() time.Time { return day0 }
	f.withdrawals.Now = func() time.Time { return days(10) }
	return f
}

func percentagePolicy(pct string, delayDays int, minWithdrawal string) models.CommissionPolicy {
	return models.CommissionPolicy{
		CommissionMode:      models.CommissionModePercentage,
		Percentage:          dec(pct),
		ReleaseDelayDays:    delayDays,
		MinWithdrawalAmount: dec(minWithdrawal),
		IsEnabled:           true,
	}
}

func (f *fixture) setPolicy(t *testing.T, p models.CommissionPolicy) {
	t.Helper()
	_, err := f.policies.ReplacePolicy(context.Background(), p, "admin-1")
	require.NoError(t, err)
}

// activeReferral registers and activates referrer → referred.
func (f *fixture) activeReferral(t *testing.T, referrerID, referredID string) *models.Referral {
	t.Helper()
	ctx := context.Background()
	ref, err := f.referrals.RegisterReferral(ctx, referrerID, referredID, nil)
	require.NoError(t, err)
	require.NoError(t, f.referrals.ActivateReferral(ctx, ref.ID))
	return ref
}

// seedAvailable inserts available commissions for referrerID, oldest first.
func (f *fixture) seedAvailable(t *testing.T, referrerID string, amounts ...string) []models.Commission {
	t.Helper()
	out := make([]models.Commission, 0, len(amounts))
	for i, a := range amounts {
		availableAt := days(1).Add(time.Duration(i) * time.Minute)
		c := models.Commission{
			ReferralID:                   uuid.NewString(),
			ReferrerID:                   referrerID,
			ReferredID:                   fmt.Sprintf("referred-%d", i),
			PaymentEventID:               uuid.NewString(),
			PaymentAmount:                dec(a).Mul(decimal.NewFromInt(10)),
			CommissionAmount:             dec(a),
			CommissionMode:               models.CommissionModePercentage,
			CommissionPercentageSnapshot: dec("10"),
			Status:                       models.CommissionStatusAvailable,
			PaymentDate:                  day0,
			ReleaseDate:                  day0,
			AvailableAt:                  &availableAt,
		}
		require.NoError(t, f.db.Create(&c).Error)
		out = append(out, c)
	}
	return out
}

func (f *fixture) reloadCommission(t *testing.T, id string) models.Commission {
	t.Helper()
	var c models.Commission
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return c
}
