package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/playrelay/push-dispatch/internal/domain"
	"go.uber.org/zap"
)

// ErrorHandler maps domain errors onto HTTP responses. Per-delivery failures
// never reach this path; only create-time validation and lookups do.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var unknownTokens *domain.UnknownDeviceTokensError
		if errors.As(err, &unknownTokens) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "unknown device tokens",
				"code":   "UNKNOWN_DEVICE_TOKENS",
				"tokens": unknownTokens.Tokens,
			})
		}

		code := fiber.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrValidation):
			code = fiber.StatusBadRequest
		case errors.Is(err, domain.ErrNotFound):
			code = fiber.StatusNotFound
		case errors.Is(err, domain.ErrConflict):
			code = fiber.StatusConflict
		default:
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("request error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
