// workers/member_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"referral-commission-service/models"
	"referral-commission-service/services"
	"referral-commission-service/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteProfile is the subset of the profile service's user record we mirror.
type RemoteProfile struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	AccountStatus string    `json:"account_status"`
	Delinquent    bool      `json:"payment_delinquent"`
	ReferredByID  *string   `json:"referred_by_id,omitempty"`
	ReferralCode  *string   `json:"referral_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// ReferralRegistrar records the referral a member signed up with.
type ReferralRegistrar interface {
	RegisterReferral(ctx context.Context, referrerID, referredID string, code *string) (*models.Referral, error)
}

// MemberSyncWorker keeps member_mirrors in step with the profile service and
// registers referrals for members who signed up through someone else.
type MemberSyncWorker struct {
	DB         *gorm.DB
	Referrals  ReferralRegistrar
	BaseURL    string
	Token      string
	Interval   time.Duration
	HTTPClient *http.Client
	Log        logrus.FieldLogger
}

func NewMemberSyncWorker(db *gorm.DB, referrals ReferralRegistrar, baseURL, token string, interval time.Duration, log logrus.FieldLogger) *MemberSyncWorker {
	return &MemberSyncWorker{
		DB:         db,
		Referrals:  referrals,
		BaseURL:    baseURL,
		Token:      token,
		Interval:   interval,
		HTTPClient: utils.HTTPClient,
		Log:        log.WithField("component", "member_sync"),
	}
}

// Run does a full backfill, then incremental syncs until ctx is cancelled.
func (w *MemberSyncWorker) Run(ctx context.Context) {
	w.Log.WithField("interval", w.Interval.String()).Info("[SYNC] member sync started")

	if _, err := w.SyncOnce(ctx, time.Time{}); err != nil {
		w.Log.WithError(err).Warn("[SYNC] initial member sync failed")
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx, w.lastSyncTime(ctx)); err != nil {
				w.Log.WithError(err).Error("[SYNC] member sync batch failed")
			}
		case <-ctx.Done():
			w.Log.Info("[SYNC] member sync stopped")
			return
		}
	}
}

// lastSyncTime is the newest profile update already mirrored.
func (w *MemberSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var latest models.MemberMirror
	err := w.DB.WithContext(ctx).Order("updated_at DESC").Take(&latest).Error
	if err != nil {
		return time.Unix(0, 0)
	}
	return latest.UpdatedAt
}

func (w *MemberSyncWorker) fetchChanges(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sync service URL %q: %w", w.BaseURL, err)
	}
	u := base.JoinPath("/api/v1/public/profiles")
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.Token)

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Users, nil
}

// SyncOnce mirrors one batch of profile changes and returns how many members
// were upserted.
func (w *MemberSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	profiles, err := w.fetchChanges(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, nil
	}

	var upserted, failed int
	for _, p := range profiles {
		if p.ExternalID == "" {
			continue
		}
		member := models.MemberMirror{
			ExternalUserID: p.ExternalID,
			Username:       p.Username,
			AccountStatus:  p.AccountStatus,
			Delinquent:     p.Delinquent,
			ReferredByID:   p.ReferredByID,
			ReferralCode:   p.ReferralCode,
			Timestamps: models.Timestamps{
				CreatedAt: p.CreatedAt.UTC(),
				UpdatedAt: p.UpdatedAt.UTC(),
			},
		}

		err := w.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "account_status", "delinquent",
				"referred_by_id", "referral_code", "updated_at",
			}),
		}).Create(&member).Error
		if err != nil {
			failed++
			w.Log.WithError(err).WithField("user_id", p.ExternalID).Warn("[SYNC] failed to upsert member")
			continue
		}
		upserted++

		if p.ReferredByID != nil && *p.ReferredByID != "" {
			w.registerReferral(ctx, *p.ReferredByID, p.ExternalID)
		}
	}

	w.Log.WithFields(logrus.Fields{"received": len(profiles), "upserted": upserted, "errors": failed}).
		Info("[SYNC] members synced")
	return upserted, nil
}

// registerReferral is best effort: a member seen again, a closed program or a
// bad attribution from upstream is not a sync failure.
func (w *MemberSyncWorker) registerReferral(ctx context.Context, referrerID, referredID string) {
	_, err := w.Referrals.RegisterReferral(ctx, referrerID, referredID, nil)
	switch {
	case err == nil:
		w.Log.WithFields(logrus.Fields{"referrer_id": referrerID, "user_id": referredID}).Info("[SYNC] referral registered")
	case errors.Is(err, services.ErrDuplicateReferral), errors.Is(err, services.ErrReferralsDisabled):
	case errors.Is(err, services.ErrSelfReferral), errors.Is(err, services.ErrInvalidArgument):
		w.Log.WithError(err).WithField("user_id", referredID).Warn("[SYNC] ignoring referral attribution")
	default:
		w.Log.WithError(err).WithField("user_id", referredID).Error("[SYNC] failed to register referral")
	}
}
