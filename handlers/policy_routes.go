// handlers/policy_routes.go
package handlers

import (
	"referral-commission-service/middleware"
	"referral-commission-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type replacePolicyRequest struct {
	CommissionMode        models.CommissionMode `json:"commission_mode" validate:"required,oneof=percentage fixed"`
	Percentage            decimal.Decimal       `json:"percentage"`
	FixedAmount           decimal.Decimal       `json:"fixed_amount"`
	ReleaseDelayDays      int                   `json:"release_delay_days" validate:"min=0"`
	RequireReferredActive bool                  `json:"require_referred_active"`
	MinWithdrawalAmount   decimal.Decimal       `json:"min_withdrawal_amount"`
	IsEnabled             bool                  `json:"is_enabled"`
}

func SetupPolicyRoutes(r fiber.Router, svc *Services) {
	r.Get("/policy", func(c *fiber.Ctx) error {
		p, err := svc.Policies.GetPolicy(c.UserContext())
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(p)
	})
}

func SetupAdminPolicyRoutes(admin fiber.Router, svc *Services) {
	admin.Put("/policy", func(c *fiber.Ctx) error {
		var req replacePolicyRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		p, err := svc.Policies.ReplacePolicy(c.UserContext(), models.CommissionPolicy{
			CommissionMode:        req.CommissionMode,
			Percentage:            req.Percentage,
			FixedAmount:           req.FixedAmount,
			ReleaseDelayDays:      req.ReleaseDelayDays,
			RequireReferredActive: req.RequireReferredActive,
			MinWithdrawalAmount:   req.MinWithdrawalAmount,
			IsEnabled:             req.IsEnabled,
		}, middleware.UserID(c))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(p)
	})
}
