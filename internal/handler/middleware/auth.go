package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/ucplabs/session-service/pkg/apikey"
)

// APIKeyMiddleware validates the bearer API key on every request before any
// handler runs. Requests that fail validation never reach service logic.
func APIKeyMiddleware(keys *apikey.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Extract Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization header",
			})
		}

		// Check if it's a Bearer token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		key := parts[1]
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing api key",
			})
		}

		valid, err := keys.IsValid(c.Context(), key)
		if err != nil {
			log.Printf("API key lookup failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "failed to verify api key",
			})
		}

		if !valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or revoked api key",
			})
		}

		// Store the key for downstream audit logging
		c.Locals("api_key", key)

		return c.Next()
	}
}
