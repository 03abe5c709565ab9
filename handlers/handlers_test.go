package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"referral-commission-service/models"
	"referral-commission-service/services"
	"referral-commission-service/utils"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testAPI struct {
	app *fiber.App
	svc *Services
	db  *gorm.DB
}

func newTestAPI(t *testing.T) *testAPI {
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

	log := utils.DiscardLogger()
	policies := services.NewPolicyStore(db, services.NewMemoryPolicyCache(time.Minute), log)
	svc := &Services{
		Policies:    policies,
		Referrals:   services.NewReferralService(db, policies, log),
		Codes:       services.NewReferralCodes(db),
		Ledger:      services.NewCommissionLedger(db, policies, services.NewMemberStandingService(db), log),
		Balances:    services.NewBalanceService(db),
		Withdrawals: services.NewWithdrawalService(db, policies, nil, log),
		Log:         log,
	}

	app := fiber.New()
	SetupRoutes(app, svc)
	return &testAPI{app: app, svc: svc, db: db}
}

// call performs a request as userID (anonymous when empty) and decodes the
// JSON response into out when given.
func (a *testAPI) call(t *testing.T, method, path, userID, roles string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) admin(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()
	return a.call(t, method, path, "admin-1", "support,admin", body, out)
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func TestPolicyRoutes(t *testing.T) {
	api := newTestAPI(t)

	var e errorBody
	assert.Equal(t, http.StatusServiceUnavailable, api.call(t, http.MethodGet, "/policy", "", "", nil, &e))
	assert.Equal(t, "config_missing", e.Code)

	policy := fiber.Map{
		"commission_mode":       "percentage",
		"percentage":            "10",
		"release_delay_days":    7,
		"min_withdrawal_amount": "50",
		"is_enabled":            true,
	}
	assert.Equal(t, http.StatusUnauthorized, api.call(t, http.MethodPut, "/admin/policy", "", "", policy, nil))
	assert.Equal(t, http.StatusForbidden, api.call(t, http.MethodPut, "/admin/policy", "user-a", "member", policy, nil))

	bad := fiber.Map{"commission_mode": "tiered"}
	assert.Equal(t, http.StatusBadRequest, api.admin(t, http.MethodPut, "/admin/policy", bad, &e))
	assert.Equal(t, "invalid_body", e.Code)

	outOfRange := fiber.Map{"commission_mode": "percentage", "percentage": "150"}
	assert.Equal(t, http.StatusBadRequest, api.admin(t, http.MethodPut, "/admin/policy", outOfRange, &e))
	assert.Equal(t, "invalid_policy", e.Code)

	var got models.CommissionPolicy
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPut, "/admin/policy", policy, &got))
	assert.True(t, got.Percentage.Equal(decimal.NewFromInt(10)))

	got = models.CommissionPolicy{}
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/policy", "", "", nil, &got))
	assert.Equal(t, models.CommissionModePercentage, got.CommissionMode)
	assert.Equal(t, 7, got.ReleaseDelayDays)
	assert.True(t, got.MinWithdrawalAmount.Equal(decimal.NewFromInt(50)))
}

func TestReferralToPayoutFlow(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPut, "/admin/policy", fiber.Map{
		"commission_mode":       "percentage",
		"percentage":            "10",
		"release_delay_days":    0,
		"min_withdrawal_amount": "50",
		"is_enabled":            true,
	}, nil))

	// user A gets a code, user B signs up with it
	var code models.ReferralCode
	assert.Equal(t, http.StatusNotFound, api.call(t, http.MethodGet, "/referrals/code", "user-a", "", nil, nil))
	require.Equal(t, http.StatusCreated, api.call(t, http.MethodPost, "/referrals/code", "user-a", "",
		fiber.Map{"display_name": "Ana Souza"}, &code))
	assert.NotEmpty(t, code.Code)

	var ref models.Referral
	require.Equal(t, http.StatusCreated, api.call(t, http.MethodPost, "/internal/referrals/signup", "", "",
		fiber.Map{"referred_user_id": "user-b", "referral_code": code.Code}, &ref))
	assert.Equal(t, "user-a", ref.ReferrerID)

	var e errorBody
	assert.Equal(t, http.StatusConflict, api.call(t, http.MethodPost, "/internal/referrals/signup", "", "",
		fiber.Map{"referred_user_id": "user-b", "referral_code": code.Code}, &e))
	assert.Equal(t, "duplicate_referral", e.Code)

	// B pays; the commission is released right away
	var recorded struct {
		Recorded   bool              `json:"recorded"`
		Commission models.Commission `json:"commission"`
	}
	require.Equal(t, http.StatusOK, api.call(t, http.MethodPost, "/internal/payments/qualifying", "", "", fiber.Map{
		"payment_event_id": "evt-1",
		"referred_user_id": "user-b",
		"amount":           1000,
		"paid_at":          time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	}, &recorded))
	require.True(t, recorded.Recorded)
	assert.True(t, recorded.Commission.CommissionAmount.Equal(decimal.NewFromInt(100)))

	var released struct {
		Promoted int `json:"promoted"`
	}
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/commissions/release", nil, &released))
	assert.Equal(t, 1, released.Promoted)

	var balance services.BalanceSummary
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/balance", "user-a", "", nil, &balance))
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(100)), balance.Available.String())

	var list struct {
		Items      []models.Commission `json:"items"`
		TotalItems int64               `json:"total_items"`
	}
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/commissions?status=available", "user-a", "", nil, &list))
	assert.EqualValues(t, 1, list.TotalItems)
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodGet, "/commissions?from=yesterday", "user-a", "", nil, nil))

	// withdrawal
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodPost, "/withdrawals", "user-a", "",
		fiber.Map{"amount": "40", "payout_key": "ana@example.com", "payout_key_type": "email"}, &e))
	assert.Equal(t, "below_minimum", e.Code)
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodPost, "/withdrawals", "user-a", "",
		fiber.Map{"amount": "100"}, &e))
	assert.Equal(t, "invalid_body", e.Code)

	var w models.WithdrawalRequest
	require.Equal(t, http.StatusCreated, api.call(t, http.MethodPost, "/withdrawals", "user-a", "",
		fiber.Map{"amount": "100", "payout_key": "ana@example.com", "payout_key_type": "email"}, &w))
	assert.Equal(t, models.WithdrawalStatusPending, w.Status)

	assert.Equal(t, http.StatusNotFound, api.call(t, http.MethodGet, "/withdrawals/"+w.ID, "user-b", "", nil, nil),
		"other users cannot see the request")
	assert.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/withdrawals/"+w.ID, "user-a", "", nil, nil))

	assert.Equal(t, http.StatusConflict, api.admin(t, http.MethodPost, "/admin/withdrawals/"+w.ID+"/paid", nil, &e))
	assert.Equal(t, "invalid_state", e.Code)

	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/withdrawals/"+w.ID+"/approve", nil, &w))
	assert.Equal(t, models.WithdrawalStatusApproved, w.Status)
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/withdrawals/"+w.ID+"/paid", nil, &w))
	assert.Equal(t, models.WithdrawalStatusPaid, w.Status)
	require.Len(t, w.Commissions, 1)
	assert.Equal(t, models.CommissionStatusWithdrawn, w.Commissions[0].Status)

	balance = services.BalanceSummary{}
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodGet, "/admin/balances/user-a", nil, &balance))
	assert.True(t, balance.Available.IsZero())
	assert.True(t, balance.Withdrawn.Equal(decimal.NewFromInt(100)))
}

func TestRejectWithdrawalRestoresBalance(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPut, "/admin/policy", fiber.Map{
		"commission_mode":    "fixed",
		"fixed_amount":       "25",
		"release_delay_days": 0,
		"is_enabled":         true,
	}, nil))
	require.Equal(t, http.StatusCreated, api.admin(t, http.MethodPost, "/admin/referrals",
		fiber.Map{"referrer_id": "user-a", "referred_id": "user-b"}, nil))
	require.Equal(t, http.StatusOK, api.call(t, http.MethodPost, "/internal/payments/qualifying", "", "", fiber.Map{
		"referred_user_id": "user-b",
		"amount":           "9.90",
		"paid_at":          time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	}, nil))
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/commissions/release", nil, nil))

	var w models.WithdrawalRequest
	require.Equal(t, http.StatusCreated, api.call(t, http.MethodPost, "/withdrawals", "user-a", "",
		fiber.Map{"amount": "25", "payout_key": "+5511999990000", "payout_key_type": "phone"}, &w))

	var balance services.BalanceSummary
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/balance", "user-a", "", nil, &balance))
	assert.True(t, balance.Available.IsZero())
	assert.True(t, balance.Reserved.Equal(decimal.NewFromInt(25)))

	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/withdrawals/"+w.ID+"/reject",
		fiber.Map{"reason": "invalid phone key"}, &w))
	assert.Equal(t, models.WithdrawalStatusRejected, w.Status)

	balance = services.BalanceSummary{}
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/balance", "user-a", "", nil, &balance))
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(25)))

	var page struct {
		Items      []models.WithdrawalRequest `json:"items"`
		TotalItems int64                      `json:"total_items"`
	}
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodGet, "/admin/withdrawals?status=rejected", nil, &page))
	assert.EqualValues(t, 1, page.TotalItems)
}

func TestAdminReferralRoutes(t *testing.T) {
	api := newTestAPI(t)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, api.admin(t, http.MethodPost, "/admin/referrals",
		fiber.Map{"referrer_id": "user-a", "referred_id": "user-b"}, &e))
	assert.Equal(t, "referrals_disabled", e.Code)

	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPut, "/admin/policy", fiber.Map{
		"commission_mode": "percentage", "percentage": "5", "is_enabled": true,
	}, nil))

	assert.Equal(t, http.StatusBadRequest, api.admin(t, http.MethodPost, "/admin/referrals",
		fiber.Map{"referrer_id": "user-a", "referred_id": "user-a"}, &e))
	assert.Equal(t, "self_referral", e.Code)

	var ref models.Referral
	require.Equal(t, http.StatusCreated, api.admin(t, http.MethodPost, "/admin/referrals",
		fiber.Map{"referrer_id": "user-a", "referred_id": "user-b"}, &ref))

	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/referrals/"+ref.ID+"/activate", nil, nil))

	var mine struct {
		Items []models.Referral `json:"items"`
	}
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/referrals", "user-a", "", nil, &mine))
	require.Len(t, mine.Items, 1)
	assert.Equal(t, models.ReferralStatusActive, mine.Items[0].Status)

	assert.Equal(t, http.StatusBadRequest, api.admin(t, http.MethodPost, "/admin/referrals/"+ref.ID+"/cancel", fiber.Map{}, nil),
		"a reason is required")

	var cancelled struct {
		CancelledCommissions int64 `json:"cancelled_commissions"`
	}
	require.Equal(t, http.StatusOK, api.admin(t, http.MethodPost, "/admin/referrals/"+ref.ID+"/cancel",
		fiber.Map{"reason": "fraud"}, &cancelled))
	assert.Zero(t, cancelled.CancelledCommissions)

	assert.Equal(t, http.StatusConflict, api.admin(t, http.MethodPost, "/admin/referrals/"+ref.ID+"/activate", nil, &e))
	assert.Equal(t, "invalid_state", e.Code)
	assert.Equal(t, http.StatusNotFound, api.admin(t, http.MethodGet, "/admin/referrals/unknown", nil, nil))
}

func TestInternalPaymentValidation(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodPost, "/internal/payments/qualifying", "", "",
		fiber.Map{"amount": "10"}, nil))

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodPost, "/internal/payments/qualifying", "", "", fiber.Map{
		"referred_user_id": "user-b",
		"amount":           "-1",
		"paid_at":          time.Now().UTC().Format(time.RFC3339),
	}, &e))
	assert.Equal(t, "invalid_payment", e.Code)

	var out struct {
		Recorded bool `json:"recorded"`
	}
	require.Equal(t, http.StatusOK, api.call(t, http.MethodPost, "/internal/payments/qualifying", "", "", fiber.Map{
		"referred_user_id": "user-b",
		"amount":           "10",
		"paid_at":          time.Now().UTC().Format(time.RFC3339),
	}, &out))
	assert.False(t, out.Recorded, "no policy means no commission")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, fiber.StatusBadRequest, statusFor(services.ErrNoExactCoverage))
	assert.Equal(t, fiber.StatusConflict, statusFor(services.ErrConcurrentModification))
	assert.Equal(t, fiber.StatusConflict, statusFor(services.ErrInvalidState))
	assert.Equal(t, fiber.StatusNotFound, statusFor(services.ErrNotFound))
	assert.Equal(t, fiber.StatusServiceUnavailable, statusFor(services.ErrTemporarilyUnavailable))
	assert.Equal(t, fiber.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
