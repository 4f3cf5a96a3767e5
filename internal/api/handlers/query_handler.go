package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/engine"
	"github.com/multidb-router/backend/pkg/logger"
)

type QueryHandler struct {
	engine   *engine.Engine
	registry *backend.Registry
}

func NewQueryHandler(eng *engine.Engine, registry *backend.Registry) *QueryHandler {
	return &QueryHandler{
		engine:   eng,
		registry: registry,
	}
}

// HandleQuery runs one request through the pipeline and maps the envelope
// status onto an HTTP class. The body is always the full envelope, so callers
// get the reasoning trail and any confirmation token regardless of outcome.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Text              string `json:"text"`
		Hint              string `json:"hint"`
		ConfirmationToken string `json:"confirmation_token"`
		Limit             int    `json:"limit"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}

	env := h.engine.Execute(c.Context(), engine.Request{
		Text:              req.Text,
		Hint:              backend.ID(req.Hint),
		ConfirmationToken: req.ConfirmationToken,
		Limit:             req.Limit,
	})

	return c.Status(statusCode(env)).JSON(env)
}

// HandleBackends reports the registry: every configured backend with a live
// reachability probe.
func (h *QueryHandler) HandleBackends(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"backends": h.registry.Describe(c.Context()),
	})
}

func statusCode(env *engine.Envelope) int {
	switch env.Status {
	case engine.StatusOK:
		return fiber.StatusOK
	case engine.StatusAmbiguous:
		return fiber.StatusConflict
	case engine.StatusCancelled:
		// nginx convention for client-closed request
		return 499
	case engine.StatusAwaiting:
		if env.Error != nil && env.Error.Kind != backend.KindAwaitingConfirmation {
			// A presented token failed; the body still carries a fresh one.
			return fiber.StatusBadRequest
		}
		return fiber.StatusAccepted
	}

	if env.Error == nil {
		return fiber.StatusInternalServerError
	}
	switch env.Error.Kind {
	case backend.KindPolicyViolation, backend.KindValidation,
		backend.KindTokenExpired, backend.KindTokenInvalid:
		return fiber.StatusBadRequest
	case backend.KindResultTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case backend.KindUnavailable:
		return fiber.StatusGatewayTimeout
	case backend.KindExecutionError:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
