// workers/payment_poller.go
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

const paymentCursorName = "payments"

// PaymentRecorder is the part of the commission ledger the poller feeds.
type PaymentRecorder interface {
	RecordQualifyingPayment(ctx context.Context, ev services.PaymentEvent) (*models.Commission, error)
}

// PaymentPoller pulls qualifying payments from the sync service and records
// commissions for them. Recording is idempotent per payment event, so a
// window that is fetched twice does no harm. The cursor is stored in the
// sync_cursors table after every handled batch.
type PaymentPoller struct {
	DB         *gorm.DB
	BaseURL    string
	Token      string
	Interval   time.Duration
	HTTPClient *http.Client
	Ledger     PaymentRecorder
	Log        logrus.FieldLogger

	// InitialLookback is how far back the first poll reads when no cursor
	// has been stored yet.
	InitialLookback time.Duration

	since time.Time
}

func NewPaymentPoller(db *gorm.DB, baseURL, token string, interval time.Duration, ledger PaymentRecorder, log logrus.FieldLogger) *PaymentPoller {
	return &PaymentPoller{
		DB:         db,
		BaseURL:    baseURL,
		Token:      token,
		Interval:   interval,
		HTTPClient: utils.HTTPClient,
		Ledger:     ledger,
		Log:        log.WithField("component", "payment_poller"),

		InitialLookback: 24 * time.Hour,
	}
}

// loadCursor returns the stored cursor, or now minus InitialLookback on the
// very first run.
func (p *PaymentPoller) loadCursor(ctx context.Context) (time.Time, error) {
	var cur models.SyncCursor
	err := p.DB.WithContext(ctx).First(&cur, "name = ?", paymentCursorName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Now().UTC().Add(-p.InitialLookback), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load payment cursor: %w", err)
	}
	return cur.Position.UTC(), nil
}

func (p *PaymentPoller) saveCursor(ctx context.Context, at time.Time) error {
	cur := models.SyncCursor{Name: paymentCursorName, Position: at}
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
	}).Create(&cur).Error
}

// FetchPayments returns the payments the sync service saw since the given time.
func (p *PaymentPoller) FetchPayments(ctx context.Context, since time.Time) ([]services.PaymentEvent, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sync service URL %q: %w", p.BaseURL, err)
	}
	u := base.JoinPath("/api/v1/public/payments")
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", p.Token)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Payments []services.PaymentEvent `json:"payments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Payments, nil
}

// PollOnce fetches one window and records every payment in it. The cursor
// only moves forward when the whole batch was handled; malformed payments are
// logged and skipped so they cannot block the cursor.
func (p *PaymentPoller) PollOnce(ctx context.Context) (int, error) {
	if p.since.IsZero() {
		since, err := p.loadCursor(ctx)
		if err != nil {
			return 0, err
		}
		p.since = since
	}
	started := time.Now().UTC()

	payments, err := p.FetchPayments(ctx, p.since)
	if err != nil {
		return 0, err
	}

	recorded := 0
	for _, ev := range payments {
		c, err := p.Ledger.RecordQualifyingPayment(ctx, ev)
		switch {
		case errors.Is(err, services.ErrInvalidPayment):
			p.Log.WithError(err).WithField("payment_event_id", ev.EventID).Warn("[SYNC] skipping invalid payment")
		case err != nil:
			return recorded, fmt.Errorf("record payment %s: %w", ev.IdempotencyKey(), err)
		case c != nil:
			recorded++
		}
	}

	p.since = started
	if err := p.saveCursor(ctx, started); err != nil {
		p.Log.WithError(err).Warn("[SYNC] failed to store payment cursor")
	}
	return recorded, nil
}

// Run polls until ctx is cancelled.
func (p *PaymentPoller) Run(ctx context.Context) {
	p.Log.WithField("interval", p.Interval.String()).Info("[SYNC] payment polling started")

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Log.Info("[SYNC] payment polling stopped")
			return
		case <-ticker.C:
			n, err := p.PollOnce(ctx)
			if err != nil {
				p.Log.WithError(err).WithField("since", p.since.Format(time.RFC3339)).Error("[SYNC] payment poll failed")
				continue
			}
			if n > 0 {
				p.Log.WithField("recorded", n).Info("[SYNC] commissions recorded from payments")
			}
		}
	}
}
