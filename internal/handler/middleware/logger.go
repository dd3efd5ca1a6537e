package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// LoggerMiddleware logs HTTP requests and responses, tagging each request
// with an id so concurrent log lines can be correlated.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Record start time
		start := time.Now()

		// Honor a caller-supplied request id, generate one otherwise
		requestID := c.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("X-Request-Id", requestID)
		c.Locals("request_id", requestID)

		log.Printf("[%s] %s %s - Started", requestID, c.Method(), c.Path())

		// Process request
		err := c.Next()

		// Calculate request latency
		latency := time.Since(start)

		// Get response status
		status := c.Response().StatusCode()

		log.Printf("[%s] %s %s - Completed in %v with status %d",
			requestID,
			c.Method(),
			c.Path(),
			latency,
			status,
		)

		return err
	}
}
