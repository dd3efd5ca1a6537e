package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ucplabs/session-service/internal/domain"
	"github.com/ucplabs/session-service/internal/service"
	"github.com/ucplabs/session-service/pkg/validator"
)

const timestampLayout = "2006-01-02T15:04:05Z07:00"

type SessionHandler struct {
	sessionService *service.SessionService
	validate       *validator.Validator
}

func NewSessionHandler(sessionService *service.SessionService, validate *validator.Validator) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		validate:       validate,
	}
}

type CreateSessionRequest struct {
	Data       domain.Payload `json:"data"`
	TTLSeconds int            `json:"ttl_seconds" validate:"omitempty,gte=1,lte=604800"`
}

type UpdateSessionRequest struct {
	Action string         `json:"action" validate:"required,min=1,max=64"`
	Data   domain.Payload `json:"data"`
}

type CompleteSessionRequest struct {
	Status   string         `json:"status" validate:"required,oneof=completed failed"`
	Metadata domain.Payload `json:"metadata"`
}

// CreateSession opens a new session
// POST /api/v1/session
func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second

	session, err := h.sessionService.Create(c.Context(), req.Data, ttl)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         session.ID,
		"expires_at": session.ExpiresAt.Format(timestampLayout),
	})
}

// UpdateSession merges data into the session payload and activates it
// PUT /api/v1/update/:id
func (h *SessionHandler) UpdateSession(c *fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	session, err := h.sessionService.ApplyUpdate(c.Context(), id, req.Action, req.Data)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"id":     session.ID,
		"status": session.Status,
	})
}

// CompleteSession moves the session into its terminal outcome
// POST /api/v1/complete/:id
func (h *SessionHandler) CompleteSession(c *fiber.Ctx) error {
	id := c.Params("id")

	var req CompleteSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	session, err := h.sessionService.Complete(c.Context(), id, domain.SessionStatus(req.Status), req.Metadata)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"id":     session.ID,
		"status": session.Status,
	})
}

// GetStatus reports the session's effective status
// GET /api/v1/status/:id
func (h *SessionHandler) GetStatus(c *fiber.Ctx) error {
	id := c.Params("id")

	session, err := h.sessionService.GetStatus(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"id":         session.ID,
		"status":     session.Status,
		"expires_at": session.ExpiresAt.Format(timestampLayout),
	})
}

// serviceError maps service error kinds to transport status codes. Anything
// unrecognized is an infrastructure failure: logged, returned as 503, never
// retried here.
func (h *SessionHandler) serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found",
		})
	case errors.Is(err, domain.ErrExpired):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session expired",
		})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "session is already in a terminal state",
		})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "session update conflict, retry the request",
		})
	default:
		log.Printf("Session store error [%s %s]: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "session store unavailable",
		})
	}
}
