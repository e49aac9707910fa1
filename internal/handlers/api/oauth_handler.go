package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/oauth"
)

type OAuthHandler struct {
	google      *oauth.GoogleProvider
	authHandler *AuthHandler
}

// GetGoogleLogin starts the authorization-code flow.
func (h *OAuthHandler) GetGoogleLogin(ctx *fiber.Ctx) error {
	authURL, err := h.google.AuthURL(ctx.Context(), ctx.Query("redirect"))
	if err != nil {
		return err
	}
	return ctx.Redirect(authURL, fiber.StatusFound)
}

// GetGoogleCallback finishes the flow. The resolved user goes through the
// same 2FA gate as a password login.
func (h *OAuthHandler) GetGoogleCallback(ctx *fiber.Ctx) error {
	state, code := ctx.Query("state"), ctx.Query("code")
	if state == "" || code == "" {
		return fiber.ErrBadRequest
	}
	user, _, err := h.google.Exchange(ctx.Context(), state, code)
	switch {
	case errors.Is(err, oauth.ErrInvalidState), errors.Is(err, oauth.ErrProviderRejected):
		return ctx.Status(fiber.StatusUnauthorized).JSON(
			NewErrorResponse(fiber.StatusUnauthorized, "Sign-in could not be completed"),
		)
	case errors.Is(err, oauth.ErrEmailNotVerified):
		return ctx.Status(fiber.StatusForbidden).JSON(
			NewErrorResponse(fiber.StatusForbidden, "Your Google email address is not verified"),
		)
	case err != nil:
		slog.Error("OAuth exchange failed", "error", err)
		return fiber.ErrInternalServerError
	}
	return h.authHandler.FinishLogin(ctx, user)
}

func NewOAuthHandler(google *oauth.GoogleProvider, authHandler *AuthHandler) *OAuthHandler {
	return &OAuthHandler{
		google:      google,
		authHandler: authHandler,
	}
}
