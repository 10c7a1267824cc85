package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards operator routes with a shared token. An empty token
// disables the routes entirely.
func AdminAuth(token string) fiber.Handler {
	want := []byte(token)
	return func(c *fiber.Ctx) error {
		got := []byte(c.Get(AdminTokenHeader))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "operator token required",
			})
		}
		return c.Next()
	}
}
