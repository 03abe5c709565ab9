// handlers/errors.go
package handlers

import (
	"errors"

	"referral-commission-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func statusFor(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindConflict, services.KindState:
		return fiber.StatusConflict
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError maps service errors to the JSON error envelope.
func respondError(c *fiber.Ctx, log logrus.FieldLogger, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error(), "code": services.CodeOf(err)}

	if errors.Is(err, services.ErrConcurrentModification) || errors.Is(err, services.ErrTemporarilyUnavailable) {
		body["retryable"] = true
	}
	if status == fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
		body["error"] = "internal error"
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": code})
}
