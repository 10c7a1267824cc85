package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SlotBoard/internal/app/service"
	"go.uber.org/zap"
)

// writeError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without their message.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var (
		verr *service.ValidationError
		rerr *service.RateLimitedError
	)

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.As(err, &rerr):
		secs := rerr.RetryAfterSeconds()
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":               "rate limited",
			"retry_after_seconds": secs,
		})
	case errors.Is(err, service.ErrNotEligible):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "listing belongs to another owner"})
	case errors.Is(err, service.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "listing not found"})
	case errors.Is(err, service.ErrSlotFull):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no free slot in category"})
	}

	logger.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}
