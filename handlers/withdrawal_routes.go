// handlers/withdrawal_routes.go
package handlers

import (
	"referral-commission-service/middleware"
	"referral-commission-service/models"
	"referral-commission-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type withdrawalRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PayoutKey     string          `json:"payout_key" validate:"required,max=140"`
	PayoutKeyType string          `json:"payout_key_type" validate:"required,max=32"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func SetupWithdrawalRoutes(secured, admin fiber.Router, svc *Services) {
	secured.Post("/withdrawals", func(c *fiber.Ctx) error {
		var req withdrawalRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		w, err := svc.Withdrawals.RequestWithdrawalWithRetry(c.UserContext(), middleware.UserID(c),
			req.Amount, req.PayoutKey, req.PayoutKeyType)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(w)
	})

	secured.Get("/withdrawals", func(c *fiber.Ctx) error {
		page, size := pageParams(c)
		items, total, err := svc.Withdrawals.ListWithdrawals(c.UserContext(), services.WithdrawalFilter{
			UserID: middleware.UserID(c),
			Status: models.WithdrawalStatus(c.Query("status")),
			Page:   page,
			Size:   size,
		})
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(paged(items, total, page, size))
	})

	secured.Get("/withdrawals/:id", func(c *fiber.Ctx) error {
		w, err := svc.Withdrawals.GetWithdrawal(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		if w.UserID != middleware.UserID(c) {
			return respondError(c, svc.Log, services.ErrNotFound)
		}
		return c.JSON(w)
	})

	// 🔒 admin
	admin.Get("/withdrawals", func(c *fiber.Ctx) error {
		page, size := pageParams(c)
		items, total, err := svc.Withdrawals.ListWithdrawals(c.UserContext(), services.WithdrawalFilter{
			UserID: c.Query("user_id"),
			Status: models.WithdrawalStatus(c.Query("status")),
			Page:   page,
			Size:   size,
		})
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(paged(items, total, page, size))
	})

	admin.Get("/withdrawals/:id", func(c *fiber.Ctx) error {
		w, err := svc.Withdrawals.GetWithdrawal(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(w)
	})

	admin.Post("/withdrawals/:id/approve", func(c *fiber.Ctx) error {
		w, err := svc.Withdrawals.ProcessWithdrawal(c.UserContext(), c.Params("id"),
			services.WithdrawalApprove, middleware.UserID(c), "")
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(w)
	})

	admin.Post("/withdrawals/:id/reject", func(c *fiber.Ctx) error {
		var req rejectRequest
		if len(c.Body()) > 0 {
			if ok, err := parseBody(c, &req); !ok {
				return err
			}
		}
		w, err := svc.Withdrawals.ProcessWithdrawal(c.UserContext(), c.Params("id"),
			services.WithdrawalReject, middleware.UserID(c), req.Reason)
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(w)
	})

	admin.Post("/withdrawals/:id/paid", func(c *fiber.Ctx) error {
		w, err := svc.Withdrawals.MarkPaid(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, svc.Log, err)
		}
		return c.JSON(w)
	})
}
