package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/audit"
	"github.com/multidb-router/backend/internal/storage/sqlite"
	"github.com/multidb-router/backend/pkg/logger"
)

type AuditHandler struct {
	recorder *audit.Recorder
}

func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

func (h *AuditHandler) HandleList(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	entries, err := h.recorder.List(limit, offset)
	if err != nil {
		logger.Error("Failed to list audit entries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list audit entries",
		})
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *AuditHandler) HandleGet(c *fiber.Ctx) error {
	id := c.Params("id")

	entry, err := h.recorder.Get(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "audit entry not found",
			})
		}
		logger.Error("Failed to load audit entry",
			zap.String("request_id", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load audit entry",
		})
	}

	return c.JSON(entry)
}
