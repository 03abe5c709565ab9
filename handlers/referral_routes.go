// handlers/referral_routes.go
package handlers

import (
	"referral-commission-service/middleware"
	"referral-commission-service/models"
	"referral-commission-service/services"

	"github.com/gofiber/fiber/v2"
)

type issueCodeRequest struct {
	DisplayName string `json:"display_name" validate:"max=120"`
}

type createReferralRequest struct {
	ReferrerID   string  `json:"referrer_id" validate:"required,max=64"`
	ReferredID   string  `json:"referred_id" validate:"required,max=64"`
	ReferralCode *string `json:"referral_code" validate:"omitempty,max=32"`
}

type cancelReferralRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func SetupReferralRoutes(secured, admin fiber.Router, svc *Services) {
	secured.Get("/referrals/code", func(c *fiber.Ctx) error {
		rc, err := svc.Codes.Get(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(rc)
	})

	secured.Post("/referrals/code", func(c *fiber.Ctx) error {
		var req issueCodeRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		rc, err := svc.Codes.Issue(c.UserContext(), middleware.UserID(c), req.DisplayName)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rc)
	})

	// referrals where the caller is the referrer
	secured.Get("/referrals", func(c *fiber.Ctx) error {
		page, size := pageParams(c)
		refs, total, err := svc.Referrals.ListReferrals(c.UserContext(), services.ReferralFilter{
			ReferrerID: middleware.UserID(c),
			Status:     models.ReferralStatus(c.Query("status")),
			Page:       page,
			Size:       size,
		})
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(paged(refs, total, page, size))
	})

	// 🔒 admin
	admin.Get("/referrals", func(c *fiber.Ctx) error {
		page, size := pageParams(c)
		refs, total, err := svc.Referrals.ListReferrals(c.UserContext(), services.ReferralFilter{
			ReferrerID: c.Query("referrer_id"),
			ReferredID: c.Query("referred_id"),
			Status:     models.ReferralStatus(c.Query("status")),
			Page:       page,
			Size:       size,
		})
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(paged(refs, total, page, size))
	})

	admin.Post("/referrals", func(c *fiber.Ctx) error {
		var req createReferralRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		ref, err := svc.Referrals.RegisterReferral(c.UserContext(), req.ReferrerID, req.ReferredID, req.ReferralCode)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(ref)
	})

	admin.Get("/referrals/:id", func(c *fiber.Ctx) error {
		ref, err := svc.Referrals.GetReferral(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(ref)
	})

	admin.Post("/referrals/:id/activate", func(c *fiber.Ctx) error {
		if err := svc.Referrals.ActivateReferral(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(fiber.Map{"message": "Referral active", "referral_id": c.Params("id")})
	})

	admin.Post("/referrals/:id/cancel", func(c *fiber.Ctx) error {
		var req cancelReferralRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		n, err := svc.Referrals.CancelReferral(c.UserContext(), c.Params("id"), req.Reason)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(fiber.Map{
			"message":               "Referral cancelled",
			"referral_id":           c.Params("id"),
			"cancelled_commissions": n,
		})
	})
}
