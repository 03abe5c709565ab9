// services/receipts.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"referral-commission-service/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// ObjectStore is the blob storage receipts are written to (R2 in production).
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// PayoutReceipts archives a JSON proof of every paid withdrawal.
type PayoutReceipts struct {
	Store   ObjectStore
	printer *message.Printer
}

func NewPayoutReceipts(store ObjectStore) *PayoutReceipts {
	return &PayoutReceipts{Store: store, printer: message.NewPrinter(language.English)}
}

type PayoutReceipt struct {
	WithdrawalID  string        `json:"withdrawal_id"`
	UserID        string        `json:"user_id"`
	Amount        string        `json:"amount"`
	AmountDisplay string        `json:"amount_display"`
	PayoutKeyType string        `json:"payout_key_type"`
	PayoutKey     string        `json:"payout_key"`
	ApprovedBy    string        `json:"approved_by,omitempty"`
	PaidBy        string        `json:"paid_by,omitempty"`
	PaidAt        time.Time     `json:"paid_at"`
	Commissions   []ReceiptLine `json:"commissions"`
}

type ReceiptLine struct {
	CommissionID string    `json:"commission_id"`
	ReferredID   string    `json:"referred_id"`
	Amount       string    `json:"amount"`
	PaymentDate  time.Time `json:"payment_date"`
}

// BuildReceipt renders the receipt for a paid request. The payout key is masked.
func (r *PayoutReceipts) BuildReceipt(w *models.WithdrawalRequest) PayoutReceipt {
	rec := PayoutReceipt{
		WithdrawalID:  w.ID,
		UserID:        w.UserID,
		Amount:        w.Amount.StringFixed(2),
		AmountDisplay: r.printer.Sprint(number.Decimal(w.Amount.InexactFloat64(), number.Scale(2))),
		PayoutKeyType: w.PayoutKeyType,
		PayoutKey:     maskPayoutKey(w.PayoutKey),
	}
	if w.ProcessedBy != nil {
		rec.ApprovedBy = *w.ProcessedBy
	}
	if w.PaidBy != nil {
		rec.PaidBy = *w.PaidBy
	}
	if w.PaidAt != nil {
		rec.PaidAt = w.PaidAt.UTC()
	}
	for _, c := range w.Commissions {
		rec.Commissions = append(rec.Commissions, ReceiptLine{
			CommissionID: c.ID,
			ReferredID:   c.ReferredID,
			Amount:       c.CommissionAmount.StringFixed(2),
			PaymentDate:  c.PaymentDate.UTC(),
		})
	}
	return rec
}

func (r *PayoutReceipts) ArchiveReceipt(ctx context.Context, w *models.WithdrawalRequest) (string, error) {
	body, err := json.MarshalIndent(r.BuildReceipt(w), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	paidAt := time.Now().UTC()
	if w.PaidAt != nil {
		paidAt = w.PaidAt.UTC()
	}
	key := fmt.Sprintf("receipts/withdrawals/%s/%s.json", paidAt.Format("2006/01"), w.ID)
	return r.Store.Put(ctx, key, body, "application/json")
}

// maskPayoutKey keeps the last four characters of the key.
func maskPayoutKey(key string) string {
	runes := []rune(key)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
