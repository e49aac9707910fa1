package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/auth"
	"github.com/kinshiphq/kinship/internal/magiclink"
	"github.com/kinshiphq/kinship/internal/twofactor"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
)

type AuthHandler struct {
	userService  *users.UserService
	twoFactorSvc *twofactor.Service
	tokenIssuer  *auth.TokenIssuer
	magicLinkSvc *magiclink.Service
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	User         *UserInfoResponse `json:"user,omitempty"`
	AccessToken  string            `json:"accessToken,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	Requires2FA  bool              `json:"requires2FA,omitempty"`
	PartialToken string            `json:"partialToken,omitempty"`
	Methods      []string          `json:"methods,omitempty"`
}

func newUserInfo(user *model.User) *UserInfoResponse {
	return &UserInfoResponse{
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Email:    user.Email,
		Picture:  user.Picture,
	}
}

func requestInfo(ctx *fiber.Ctx) twofactor.RequestInfo {
	return twofactor.RequestInfo{
		IP:        ctx.IP(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
	}
}

// issueTokens completes a fully authenticated login.
func (h *AuthHandler) issueTokens(ctx *fiber.Ctx, user *model.User) error {
	pair, err := h.tokenIssuer.Issue(ctx.Context(), user.ID, user.Username)
	if err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(loginResponse{
		User:         newUserInfo(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}))
}

// FinishLogin routes a password-verified (or link/oauth-verified) user
// either straight to tokens or into the second-factor step. A valid trusted
// device cookie skips 2FA and rotates.
func (h *AuthHandler) FinishLogin(ctx *fiber.Ctx, user *model.User) error {
	enabled, err := h.twoFactorSvc.Enabled(ctx.Context(), user.ID)
	if err != nil {
		return err
	}
	if !enabled {
		return h.issueTokens(ctx, user)
	}

	if cookie := ctx.Cookies(params.TrustedDeviceCookie); cookie != "" {
		if token, ok := twofactor.ParseDeviceToken(cookie); ok {
			trusted, rotated := h.twoFactorSvc.Devices().IsTrusted(ctx.Context(), user.ID, token)
			if trusted {
				setDeviceCookie(ctx, rotated.String())
				return h.issueTokens(ctx, user)
			}
		}
		ctx.ClearCookie(params.TrustedDeviceCookie)
	}

	partialToken, err := h.twoFactorSvc.PartialTokens().Issue(ctx.Context(), user.ID, ctx.IP())
	if err != nil {
		return err
	}
	status, err := h.twoFactorSvc.Status(ctx.Context(), user.ID)
	if err != nil {
		return err
	}
	methods := make([]string, 0, len(status.Methods))
	for _, m := range status.Methods {
		methods = append(methods, m.String())
	}
	return ctx.JSON(NewDataResponse(loginResponse{
		Requires2FA:  true,
		PartialToken: partialToken,
		Methods:      methods,
	}))
}

func (h *AuthHandler) PostLogin(ctx *fiber.Ctx) error {
	var req loginRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	user, err := h.userService.Authenticate(ctx.Context(), req.Identifier, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) || errors.Is(err, users.ErrUserDisabled) {
		return ctx.Status(fiber.StatusUnauthorized).JSON(
			NewErrorResponse(fiber.StatusUnauthorized, "Invalid username or password"),
		)
	}
	if err != nil {
		return err
	}
	return h.FinishLogin(ctx, user)
}

type verifyLoginRequest struct {
	PartialToken   string `json:"partialToken"`
	Method         string `json:"method,omitempty"`
	Code           string `json:"code,omitempty"`
	RecoveryCode   string `json:"recoveryCode,omitempty"`
	RememberDevice bool   `json:"rememberDevice,omitempty"`
}

func (h *AuthHandler) PostLoginVerify(ctx *fiber.Ctx) error {
	var req verifyLoginRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	userID, err := h.twoFactorSvc.PartialTokens().Redeem(ctx.Context(), req.PartialToken, ctx.IP())
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	user, err := h.userService.GetUserByID(ctx.Context(), userID)
	if err != nil {
		return err
	}

	cred := twofactor.Credential{Code: req.Code}
	if req.RecoveryCode != "" {
		cred = twofactor.Credential{Code: req.RecoveryCode, Recovery: true}
	} else if req.Method != "" {
		method, err := twofactor.ParseMethod(req.Method)
		if err != nil {
			return renderTwoFactorError(ctx, err)
		}
		cred.Method = method
	}

	result, err := h.twoFactorSvc.VerifyLogin(ctx.Context(), user, cred, req.RememberDevice, requestInfo(ctx))
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	if result.DeviceToken != "" {
		setDeviceCookie(ctx, result.DeviceToken)
	}
	return h.issueTokens(ctx, user)
}

type resendRequest struct {
	PartialToken string `json:"partialToken"`
	Method       string `json:"method,omitempty"`
}

// PostLoginResend re-delivers a login code without consuming the pending
// login.
func (h *AuthHandler) PostLoginResend(ctx *fiber.Ctx) error {
	var req resendRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	userID, err := h.twoFactorSvc.PartialTokens().Peek(ctx.Context(), req.PartialToken, ctx.IP())
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	user, err := h.userService.GetUserByID(ctx.Context(), userID)
	if err != nil {
		return err
	}
	var method twofactor.Method
	if req.Method != "" {
		if method, err = twofactor.ParseMethod(req.Method); err != nil {
			return renderTwoFactorError(ctx, err)
		}
	}
	sent, err := h.twoFactorSvc.SendLoginCode(ctx.Context(), user, method, requestInfo(ctx))
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"method": sent.String()}))
}

type registerRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) PostRegister(ctx *fiber.Ctx) error {
	var req registerRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		return ctx.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse(fiber.StatusBadRequest, "Username, email and a password of at least 8 characters are required"),
		)
	}
	user, err := h.userService.CreateUser(ctx.Context(), users.CreateUserOptions{
		Username: req.Username,
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if errors.Is(err, users.ErrUsernameTaken) || errors.Is(err, users.ErrEmailRegistered) {
		return ctx.Status(fiber.StatusConflict).JSON(
			NewErrorResponse(fiber.StatusConflict, err.Error()),
		)
	}
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(newUserInfo(user)))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) PostRefresh(ctx *fiber.Ctx) error {
	var req refreshRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	userID, err := h.tokenIssuer.Redeem(ctx.Context(), req.RefreshToken)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(
			NewErrorResponse(fiber.StatusUnauthorized, "Invalid refresh token"),
		)
	}
	user, err := h.userService.GetUserByID(ctx.Context(), userID)
	if err != nil {
		return err
	}
	return h.issueTokens(ctx, user)
}

func (h *AuthHandler) PostLogout(ctx *fiber.Ctx) error {
	var req refreshRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	h.tokenIssuer.Revoke(ctx.Context(), req.RefreshToken)
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) GetMe(ctx *fiber.Ctx) error {
	user, err := h.userService.GetUserByID(ctx.Context(), CurrentUserID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(newUserInfo(user)))
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) PostMagicLink(ctx *fiber.Ctx) error {
	var req magicLinkRequest
	if err := ctx.BodyParser(&req); err != nil || req.Email == "" {
		return fiber.ErrBadRequest
	}
	if err := h.magicLinkSvc.Request(ctx.Context(), req.Email); err != nil {
		slog.Error("Magic link request failed", "error", err)
		return fiber.ErrInternalServerError
	}
	// same response whether or not the address exists
	return ctx.JSON(NewDataResponse(fiber.Map{"sent": true}))
}

type magicLinkVerifyRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) PostMagicLinkVerify(ctx *fiber.Ctx) error {
	var req magicLinkVerifyRequest
	if err := ctx.BodyParser(&req); err != nil || req.Token == "" {
		return fiber.ErrBadRequest
	}
	user, err := h.magicLinkSvc.Redeem(ctx.Context(), req.Token)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(
			NewErrorResponse(fiber.StatusUnauthorized, "Invalid or expired sign-in link"),
		)
	}
	return h.FinishLogin(ctx, user)
}

func NewAuthHandler(userService *users.UserService, twoFactorSvc *twofactor.Service, tokenIssuer *auth.TokenIssuer, magicLinkSvc *magiclink.Service) *AuthHandler {
	return &AuthHandler{
		userService:  userService,
		twoFactorSvc: twoFactorSvc,
		tokenIssuer:  tokenIssuer,
		magicLinkSvc: magicLinkSvc,
	}
}
