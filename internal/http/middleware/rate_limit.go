package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SlotBoard/internal/app/ratelimit"
	"go.uber.org/zap"
)

// OwnerHeader identifies the submitting user on owner-scoped routes.
const OwnerHeader = "X-Owner-ID"

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Limiter ratelimit.Limiter
	Rule    ratelimit.Rule
	// OnDeny is called for every rejected request, e.g. to bump a metric.
	OnDeny func(scope string)
}

// RateLimit counts requests per caller under cfg.Rule. Callers are keyed by
// the owner header when present, otherwise by client IP.
func RateLimit(cfg RateLimitConfig, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(OwnerHeader)
		if key == "" {
			key = "ip:" + c.IP()
		}

		decision, err := cfg.Limiter.Allow(c.UserContext(), cfg.Rule, key)
		if err != nil {
			logger.Error("rate limit backend error",
				zap.String("scope", cfg.Rule.Scope),
				zap.Error(err))
			// Fail open: allow request if the counter store is unavailable
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			if cfg.OnDeny != nil {
				cfg.OnDeny(cfg.Rule.Scope)
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(decision.RetryAfterSeconds()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
