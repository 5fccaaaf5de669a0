package rate

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/auction/internal/metrics"
)

// Middleware rejects requests with 429 once the key returned by keyFn runs out
// of tokens. Requests with an empty key pass through to be rejected downstream.
func Middleware(m *Manager, route string, keyFn func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := keyFn(c)
		if key == "" || m.Allow(key) {
			return c.Next()
		}
		metrics.IncRateLimited(route)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "rate limit exceeded",
			"code":  "RateLimited",
		})
	}
}
