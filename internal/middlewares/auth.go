package middlewares

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/auth"
	"github.com/kinshiphq/kinship/internal/handlers/api"
)

// RequireAuth validates the bearer access token and stashes the user ID for
// handlers.
func RequireAuth(tokenIssuer *auth.TokenIssuer) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		header := ctx.Get(fiber.HeaderAuthorization)
		tokenStr, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenStr == "" {
			return fiber.ErrUnauthorized
		}
		claims, err := tokenIssuer.ParseAccessToken(tokenStr)
		if err != nil {
			return fiber.ErrUnauthorized
		}
		ctx.Locals(api.CurrentUserKey, claims.UserID)
		return ctx.Next()
	}
}
