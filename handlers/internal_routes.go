// handlers/internal_routes.go
package handlers

import (
	"time"

	"referral-commission-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type qualifyingPaymentRequest struct {
	PaymentEventID string          `json:"payment_event_id" validate:"max=191"`
	ReferredUserID string          `json:"referred_user_id" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at" validate:"required"`
}

type signupReferralRequest struct {
	ReferredUserID string `json:"referred_user_id" validate:"required,max=64"`
	ReferralCode   string `json:"referral_code" validate:"required,max=32"`
}

// SetupInternalRoutes serves events pushed by other services through the gateway.
func SetupInternalRoutes(r fiber.Router, svc *Services) {
	r.Post("/payments/qualifying", func(c *fiber.Ctx) error {
		var req qualifyingPaymentRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		commission, err := svc.Ledger.RecordQualifyingPayment(c.UserContext(), services.PaymentEvent{
			EventID:        req.PaymentEventID,
			ReferredUserID: req.ReferredUserID,
			Amount:         req.Amount,
			PaidAt:         req.PaidAt,
		})
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		if commission == nil {
			return c.JSON(fiber.Map{"recorded": false})
		}
		return c.JSON(fiber.Map{"recorded": true, "commission": commission})
	})

	r.Post("/referrals/signup", func(c *fiber.Ctx) error {
		var req signupReferralRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		ref, err := svc.Referrals.RegisterReferralByCode(c.UserContext(), req.ReferredUserID, req.ReferralCode)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(ref)
	})
}
