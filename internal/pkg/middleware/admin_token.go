package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminTokenHeader carries the operator token on admin API calls.
const AdminTokenHeader = "X-Admin-Token"

func extractAdminToken(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get(AdminTokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// validAdminToken compares in constant time. An unset token never matches.
func validAdminToken(got, configured string) bool {
	if configured == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(configured)) == 1
}
