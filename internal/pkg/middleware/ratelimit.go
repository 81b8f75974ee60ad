package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// CheckoutRateLimit caps checkout calls per client IP and minute. A nil
// storage keeps the counters in process memory.
func CheckoutRateLimit(perMinute int, storage fiber.Storage) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 30
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "checkout:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many checkout attempts, please wait a minute",
			})
		},
	})
}
