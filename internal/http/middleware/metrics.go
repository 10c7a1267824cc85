package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPObserver records one served request.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Metrics reports latency per matched route, so ids in paths do not
// explode label cardinality.
func Metrics(observer HTTPObserver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		observer.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
