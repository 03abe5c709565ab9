package services

import (
	"context"
	"regexp"
	"testing"

	"referral-commission-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPolicy(t, percentagePolicy("10", 7, "50"))

	ref, err := f.referrals.RegisterReferral(ctx, "user-a", "user-b", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, models.ReferralStatusPending, ref.Status)

	_, err = f.referrals.RegisterReferral(ctx, "user-a", "user-b", nil)
	require.ErrorIs(t, err, ErrDuplicateReferral)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = f.referrals.RegisterReferral(ctx, "user-a", "user-a", nil)
	require.ErrorIs(t, err, ErrSelfReferral)

	_, err = f.referrals.RegisterReferral(ctx, "", "user-c", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegisterReferralWhenProgramClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.referrals.RegisterReferral(ctx, "user-a", "user-b", nil)
	require.ErrorIs(t, err, ErrReferralsDisabled, "missing policy disables registration")

	off := percentagePolicy("10", 7, "50")
	off.IsEnabled = false
	f.setPolicy(t, off)
	_, err = f.referrals.RegisterReferral(ctx, "user-a", "user-b", nil)
	require.ErrorIs(t, err, ErrReferralsDisabled)
}

func TestActivateReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPolicy(t, percentagePolicy("10", 7, "50"))

	ref, err := f.referrals.RegisterReferral(ctx, "user-a", "user-b", nil)
	require.NoError(t, err)

	require.NoError(t, f.referrals.ActivateReferral(ctx, ref.ID))
	require.NoError(t, f.referrals.ActivateReferral(ctx, ref.ID), "activation is idempotent")

	got, err := f.referrals.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusActive, got.Status)
	require.NotNil(t, got.ActivatedAt)
	assert.True(t, got.ActivatedAt.Equal(day0))

	err = f.referrals.ActivateReferral(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.referrals.CancelReferral(ctx, ref.ID, "fraud")
	require.NoError(t, err)
	err = f.referrals.ActivateReferral(ctx, ref.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelReferralCascadesToPendingCommissionsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPolicy(t, percentagePolicy("10", 7, "50"))
	ref := f.activeReferral(t, "user-a", "user-b")

	early, err := f.ledger.RecordQualifyingPayment(ctx, PaymentEvent{
		EventID: "pay-1", ReferredUserID: "user-b", Amount: dec("100"), PaidAt: day0,
	})
	require.NoError(t, err)
	_, err = f.ledger.PromoteEligible(ctx, days(8))
	require.NoError(t, err)

	late, err := f.ledger.RecordQualifyingPayment(ctx, PaymentEvent{
		EventID: "pay-2", ReferredUserID: "user-b", Amount: dec("200"), PaidAt: days(5),
	})
	require.NoError(t, err)

	n, err := f.referrals.CancelReferral(ctx, ref.ID, "chargeback")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Equal(t, models.CommissionStatusAvailable, f.reloadCommission(t, early.ID).Status)
	cancelled := f.reloadCommission(t, late.ID)
	assert.Equal(t, models.CommissionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	got, err := f.referrals.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "chargeback", *got.CancelReason)

	_, err = f.referrals.CancelReferral(ctx, ref.ID, "again")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.referrals.CancelReferral(ctx, "00000000-0000-0000-0000-000000000000", "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListReferrals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPolicy(t, percentagePolicy("10", 7, "50"))

	f.activeReferral(t, "user-a", "user-b")
	_, err := f.referrals.RegisterReferral(ctx, "user-a", "user-c", nil)
	require.NoError(t, err)
	_, err = f.referrals.RegisterReferral(ctx, "user-x", "user-d", nil)
	require.NoError(t, err)

	refs, total, err := f.referrals.ListReferrals(ctx, ReferralFilter{ReferrerID: "user-a"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, refs, 2)

	refs, total, err = f.referrals.ListReferrals(ctx, ReferralFilter{ReferrerID: "user-a", Status: models.ReferralStatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, refs, 1)
	assert.Equal(t, "user-c", refs[0].ReferredID)

	refs, total, err = f.referrals.ListReferrals(ctx, ReferralFilter{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, refs, 1)
}

func TestReferralCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPolicy(t, percentagePolicy("10", 7, "50"))

	rc, err := f.codes.Issue(ctx, "user-a", "João Silva")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^JOAOSI[0-9]{4}$`), rc.Code)

	again, err := f.codes.Issue(ctx, "user-a", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, rc.Code, again.Code, "a user keeps their first code")

	_, err = f.codes.Get(ctx, "user-z")
	require.ErrorIs(t, err, ErrNotFound)

	ref, err := f.referrals.RegisterReferralByCode(ctx, "user-b", " "+rc.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, "user-a", ref.ReferrerID)
	require.NotNil(t, ref.ReferralCode)
	assert.Equal(t, rc.Code, *ref.ReferralCode)

	_, err = f.referrals.RegisterReferralByCode(ctx, "user-c", "NOPE0000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCodePrefix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"João Silva", "JOAOSI"},
		{"Al", "AL"},
		{"", "REF"},
		{"!!!", "REF"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, codePrefix(tt.name), tt.name)
	}
}
