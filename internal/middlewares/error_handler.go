package middlewares

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/handlers/api"
)

// ErrorHandler turns uncaught errors into the JSON envelope. Handlers that
// want a specific status or machine reason render it themselves; whatever
// reaches here is either a fiber error or a bug.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	if code == fiber.StatusInternalServerError {
		slog.Error("Unhandled error", "path", ctx.Path(), "error", err)
	}
	return ctx.Status(code).JSON(api.NewErrorResponse(code, message))
}
