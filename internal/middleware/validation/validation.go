package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxTextLength       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware validates request shape before the pipeline sees it. Note that
// the text field legitimately contains SQL and document-store syntax, so this
// layer checks encoding and size only and never filters by keyword. What a
// request may DO is decided downstream by the safety gate.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTextLength == 0 {
		cfg.MaxTextLength = 10000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if strings.Contains(c.Path(), "/api/v1/query") && c.Method() == "POST" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			text, ok := req["text"].(string)
			if !ok || strings.TrimSpace(text) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "text is required and must be a string",
				})
			}

			if len(text) > cfg.MaxTextLength {
				cfg.Logger.Warn("Oversized request text rejected",
					zap.String("ip", c.IP()),
					zap.Int("length", len(text)),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "text exceeds maximum length",
				})
			}

			if !utf8.ValidString(text) || strings.ContainsRune(text, '\x00') {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "text must be valid UTF-8 without NUL bytes",
				})
			}
		}

		return c.Next()
	}
}
