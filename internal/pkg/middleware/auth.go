package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/usercontext"
)

// RequireAdmin admits callers presenting the operator token or an admin
// login session. Failures are JSON, never redirects.
func RequireAdmin(token string) fiber.Handler {
	if token == "" {
		log.Warn("[Auth] PAYMENT_ADMIN_TOKEN is not set, admin API only accepts admin sessions")
	}
	return func(c *fiber.Ctx) error {
		if presented := extractAdminToken(c); presented != "" {
			if validAdminToken(presented, token) {
				return c.Next()
			}
			log.Warnf("[Auth] Rejected admin token from %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid admin token"})
		}

		if !usercontext.IsLoggedIn(c) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "login required"})
		}
		if !usercontext.IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}
