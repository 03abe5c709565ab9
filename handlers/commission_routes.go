// handlers/commission_routes.go
package handlers

import (
	"time"

	"referral-commission-service/middleware"
	"referral-commission-service/models"
	"referral-commission-service/services"

	"github.com/gofiber/fiber/v2"
)

func commissionFilter(c *fiber.Ctx) (services.CommissionFilter, error) {
	from, err := timeQuery(c, "from")
	if err != nil {
		return services.CommissionFilter{}, err
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		return services.CommissionFilter{}, err
	}
	page, size := pageParams(c)
	return services.CommissionFilter{
		Status: models.CommissionStatus(c.Query("status")),
		From:   from,
		To:     to,
		Page:   page,
		Size:   size,
	}, nil
}

func SetupCommissionRoutes(secured, admin fiber.Router, svc *Services) {
	secured.Get("/commissions", func(c *fiber.Ctx) error {
		f, err := commissionFilter(c)
		if err != nil {
			return badRequest(c, "invalid_query", err.Error())
		}
		f.ReferrerID = middleware.UserID(c)
		items, total, err := svc.Ledger.ListCommissions(c.UserContext(), f)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(paged(items, total, f.Page, f.Size))
	})

	secured.Get("/balance", func(c *fiber.Ctx) error {
		sum, err := svc.Balances.Summary(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(sum)
	})

	// 🔒 admin
	admin.Get("/commissions", func(c *fiber.Ctx) error {
		f, err := commissionFilter(c)
		if err != nil {
			return badRequest(c, "invalid_query", err.Error())
		}
		f.ReferrerID = c.Query("referrer_id")
		f.ReferralID = c.Query("referral_id")
		items, total, err := svc.Ledger.ListCommissions(c.UserContext(), f)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(paged(items, total, f.Page, f.Size))
	})

	admin.Get("/balances/:user_id", func(c *fiber.Ctx) error {
		sum, err := svc.Balances.Summary(c.UserContext(), c.Params("user_id"))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(sum)
	})

	// manual trigger of the release scan
	admin.Post("/commissions/release", func(c *fiber.Ctx) error {
		promoted, err := svc.Ledger.PromoteEligible(c.UserContext(), time.Now())
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(fiber.Map{"promoted": len(promoted), "commissions": promoted})
	})
}
