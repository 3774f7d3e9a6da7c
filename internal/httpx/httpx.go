// Package httpx maps classified errors onto fiber responses.
package httpx

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/apperr"
)

// Error writes {"success":false,"message","error"[,"retryAfter"]} with the
// status for err's kind. Internal causes are never echoed to the client.
func Error(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	body := fiber.Map{"success": false}

	e, ok := apperr.As(err)
	if !ok {
		body["message"] = "Internal server error"
		body["error"] = "INTERNAL_ERROR"
		return c.Status(status).JSON(body)
	}
	body["message"] = e.Message
	body["error"] = e.Code
	if e.RetryAfter > 0 {
		body["retryAfter"] = e.RetryAfter
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(e.RetryAfter))
	}
	return c.Status(status).JSON(body)
}

// ErrorHandler is the app-level fallback for errors returned by handlers.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}
		if apperr.HTTPStatus(err) >= 500 {
			log.WithError(err).WithField("path", c.Path()).Error("unhandled error")
		}
		return Error(c, err)
	}
}

func Unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
}

func BadRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": msg})
}
