// handlers/routes.go
package handlers

import (
	"referral-commission-service/middleware"
	"referral-commission-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Policies    *services.PolicyStore
	Referrals   *services.ReferralService
	Codes       *services.ReferralCodes
	Ledger      *services.CommissionLedger
	Balances    *services.BalanceService
	Withdrawals *services.WithdrawalService
	Log         logrus.FieldLogger
}

// SetupRoutes registers every route. Gateway auth is applied by the caller.
// Routes without user context come first so the user middleware does not
// wrap them.
func SetupRoutes(app *fiber.App, svc *Services) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 🔓 no user context: policy read + service-to-service events
	SetupPolicyRoutes(app, svc)
	SetupInternalRoutes(app.Group("/internal"), svc)

	// 🔐 user context required
	secured := app.Group("/", middleware.UserContextMiddleware())
	admin := secured.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))

	SetupAdminPolicyRoutes(admin, svc)
	SetupReferralRoutes(secured, admin, svc)
	SetupCommissionRoutes(secured, admin, svc)
	SetupWithdrawalRoutes(secured, admin, svc)
}
