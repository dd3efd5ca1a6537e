package handler

import (
	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(
	app *fiber.App,
	sessionHandler *SessionHandler,
	healthHandler *HealthHandler,
	authMiddleware fiber.Handler,
) {
	// Health checks (public)
	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)

	// Session API (all routes keyed)
	api := app.Group("/api/v1", authMiddleware)
	api.Post("/session", sessionHandler.CreateSession)
	api.Put("/update/:id", sessionHandler.UpdateSession)
	api.Post("/complete/:id", sessionHandler.CompleteSession)
	api.Get("/status/:id", sessionHandler.GetStatus)
}
