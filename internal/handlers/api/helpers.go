package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/circles"
	"github.com/kinshiphq/kinship/internal/twofactor"
	"github.com/kinshiphq/kinship/params"
)

// CurrentUserKey is the fiber.Ctx local holding the authenticated user ID,
// set by the bearer-token middleware.
const CurrentUserKey = "currentUserID"

func CurrentUserID(ctx *fiber.Ctx) uint {
	userID, _ := ctx.Locals(CurrentUserKey).(uint)
	return userID
}

func setDeviceCookie(ctx *fiber.Ctx, token string) {
	ctx.Cookie(&fiber.Cookie{
		Name:     params.TrustedDeviceCookie,
		Value:    token,
		Expires:  time.Now().Add(twofactor.DefaultTrustedDeviceTTL),
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// renderTwoFactorError maps 2FA domain errors onto HTTP statuses with their
// stable machine reasons. Unknown errors fall through to the global error
// handler.
func renderTwoFactorError(ctx *fiber.Ctx, err error) error {
	reason := twofactor.ErrorCode(err)
	status := fiber.StatusBadRequest
	switch reason {
	case "invalid_verification_code", "invalid_partial_token":
		status = fiber.StatusUnauthorized
	case "rate_limit_exceeded":
		status = fiber.StatusTooManyRequests
	case "account_locked":
		status = fiber.StatusForbidden
	case "internal_error":
		return err
	}
	return ctx.Status(status).JSON(NewReasonResponse(status, reason, err.Error()))
}

// renderCircleError maps circle membership errors; everything else
// propagates.
func renderCircleError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, circles.ErrCircleNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse(fiber.StatusNotFound, err.Error()))
	case errors.Is(err, circles.ErrNotMember), errors.Is(err, circles.ErrNotOwner),
		errors.Is(err, circles.ErrOwnerLeaving):
		return ctx.Status(fiber.StatusForbidden).JSON(
			NewErrorResponse(fiber.StatusForbidden, err.Error()))
	case errors.Is(err, circles.ErrAlreadyMember), errors.Is(err, circles.ErrUnknownRole),
		errors.Is(err, circles.ErrNotChildProfile):
		return ctx.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse(fiber.StatusBadRequest, err.Error()))
	case errors.Is(err, circles.ErrInviteInvalid), errors.Is(err, circles.ErrInviteEmailOther):
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(
			NewErrorResponse(fiber.StatusUnprocessableEntity, err.Error()))
	default:
		return err
	}
}
