package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/twofactor"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
)

type TwoFactorHandler struct {
	userService  *users.UserService
	twoFactorSvc *twofactor.Service
}

func (h *TwoFactorHandler) currentUser(ctx *fiber.Ctx) (*model.User, error) {
	return h.userService.GetUserByID(ctx.Context(), CurrentUserID(ctx))
}

type setupRequest struct {
	Method      string `json:"method"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type setupResponse struct {
	Method        string `json:"method"`
	Secret        string `json:"secret,omitempty"`
	EnrollmentURL string `json:"enrollmentURL,omitempty"`
}

func (h *TwoFactorHandler) PostSetup(ctx *fiber.Ctx) error {
	var req setupRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	method, err := twofactor.ParseMethod(req.Method)
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	info, err := h.twoFactorSvc.Setup(ctx.Context(), user, method, req.PhoneNumber)
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(setupResponse{
		Method:        info.Method.String(),
		Secret:        info.Secret,
		EnrollmentURL: info.EnrollmentURL,
	}))
}

type verifySetupRequest struct {
	Method string `json:"method"`
	Code   string `json:"code"`
}

type verifySetupResponse struct {
	Method        string   `json:"method"`
	Enabled       bool     `json:"enabled"`
	RecoveryCodes []string `json:"recoveryCodes,omitempty"`
}

func (h *TwoFactorHandler) PostVerifySetup(ctx *fiber.Ctx) error {
	var req verifySetupRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	method, err := twofactor.ParseMethod(req.Method)
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	result, err := h.twoFactorSvc.VerifySetup(ctx.Context(), user, method, req.Code, requestInfo(ctx))
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(verifySetupResponse{
		Method:        result.Method.String(),
		Enabled:       result.Enabled,
		RecoveryCodes: result.RecoveryCodes,
	}))
}

type statusResponse struct {
	Enabled            bool     `json:"enabled"`
	PreferredMethod    string   `json:"preferredMethod,omitempty"`
	Methods            []string `json:"methods"`
	RecoveryCodesLeft  int64    `json:"recoveryCodesLeft"`
	TrustedDeviceCount int64    `json:"trustedDeviceCount"`
	LockedUntil        *string  `json:"lockedUntil,omitempty"`
}

func (h *TwoFactorHandler) GetStatus(ctx *fiber.Ctx) error {
	status, err := h.twoFactorSvc.Status(ctx.Context(), CurrentUserID(ctx))
	if err != nil {
		return err
	}
	methods := make([]string, 0, len(status.Methods))
	for _, m := range status.Methods {
		methods = append(methods, m.String())
	}
	resp := statusResponse{
		Enabled:            status.Enabled,
		PreferredMethod:    status.PreferredMethod.String(),
		Methods:            methods,
		RecoveryCodesLeft:  status.RecoveryCodesLeft,
		TrustedDeviceCount: status.TrustedDeviceCount,
	}
	if status.LockedUntil != nil {
		locked := status.LockedUntil.Format(time.RFC3339)
		resp.LockedUntil = &locked
	}
	return ctx.JSON(NewDataResponse(resp))
}

type preferredMethodRequest struct {
	Method string `json:"method"`
}

func (h *TwoFactorHandler) PostPreferredMethod(ctx *fiber.Ctx) error {
	var req preferredMethodRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	method, err := twofactor.ParseMethod(req.Method)
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	err = h.twoFactorSvc.SetPreferredMethod(ctx.Context(), CurrentUserID(ctx), method)
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

type sendCodeRequest struct {
	Method string `json:"method,omitempty"`
}

// PostDisableSendCode delivers the OTP that authorizes turning 2FA off.
// TOTP users confirm with their authenticator and skip this step.
func (h *TwoFactorHandler) PostDisableSendCode(ctx *fiber.Ctx) error {
	var req sendCodeRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.ErrBadRequest
		}
	}
	var method twofactor.Method
	if req.Method != "" {
		parsed, err := twofactor.ParseMethod(req.Method)
		if err != nil {
			return renderTwoFactorError(ctx, err)
		}
		method = parsed
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	sent, err := h.twoFactorSvc.SendDisableCode(ctx.Context(), user, method, requestInfo(ctx))
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"method": sent.String()}))
}

type disableRequest struct {
	Method       string `json:"method,omitempty"`
	Code         string `json:"code,omitempty"`
	RecoveryCode string `json:"recoveryCode,omitempty"`
}

func (h *TwoFactorHandler) PostDisable(ctx *fiber.Ctx) error {
	var req disableRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	user, err := h.currentUser(ctx)
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
	if err := h.twoFactorSvc.Disable(ctx.Context(), user, cred, requestInfo(ctx)); err != nil {
		return renderTwoFactorError(ctx, err)
	}
	ctx.ClearCookie(params.TrustedDeviceCookie)
	return ctx.SendStatus(fiber.StatusNoContent)
}

type removeMethodRequest struct {
	Method string `json:"method"`
}

func (h *TwoFactorHandler) PostRemoveMethod(ctx *fiber.Ctx) error {
	var req removeMethodRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	method, err := twofactor.ParseMethod(req.Method)
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	if err := h.twoFactorSvc.RemoveMethod(ctx.Context(), user, method, requestInfo(ctx)); err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (h *TwoFactorHandler) PostRecoveryCodes(ctx *fiber.Ctx) error {
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	codes, err := h.twoFactorSvc.GenerateRecoveryCodes(ctx.Context(), user, requestInfo(ctx))
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"recoveryCodes": codes}))
}

type downloadCodesRequest struct {
	Codes  []string `json:"codes"`
	Format string   `json:"format,omitempty"` // txt (default) or pdf
}

// PostRecoveryCodesDownload renders codes the client just generated into a
// downloadable document. The server cannot reproduce plaintexts, so the
// client sends them back; only well-formed codes are accepted.
func (h *TwoFactorHandler) PostRecoveryCodesDownload(ctx *fiber.Ctx) error {
	var req downloadCodesRequest
	if err := ctx.BodyParser(&req); err != nil || len(req.Codes) == 0 {
		return fiber.ErrBadRequest
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	switch req.Format {
	case "pdf":
		doc, err := twofactor.ExportPDF(user.Email, req.Codes)
		if err != nil {
			return fiber.ErrBadRequest
		}
		ctx.Set(fiber.HeaderContentType, "application/pdf")
		ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="kinship-recovery-codes.pdf"`)
		return ctx.Send(doc)
	case "", "txt":
		doc, err := twofactor.ExportText(user.Email, req.Codes)
		if err != nil {
			return fiber.ErrBadRequest
		}
		ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="kinship-recovery-codes.txt"`)
		return ctx.Send(doc)
	default:
		return fiber.ErrBadRequest
	}
}

type deviceResponse struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	CreatedAt  string `json:"createdAt"`
	LastUsedAt string `json:"lastUsedAt"`
	ExpiresAt  string `json:"expiresAt"`
}

func (h *TwoFactorHandler) GetDevices(ctx *fiber.Ctx) error {
	devices, err := h.twoFactorSvc.Devices().List(ctx.Context(), CurrentUserID(ctx))
	if err != nil {
		return err
	}
	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, deviceResponse{
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			CreatedAt:  d.CreatedAt.Format(time.RFC3339),
			LastUsedAt: d.LastUsedAt.Format(time.RFC3339),
			ExpiresAt:  d.ExpiresAt.Format(time.RFC3339),
		})
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"devices": resp}))
}

type addDeviceRequest struct {
	DeviceName string `json:"deviceName,omitempty"`
}

// PostDevice trusts the calling device for an already authenticated user
// and hands the signed token back in the device cookie.
func (h *TwoFactorHandler) PostDevice(ctx *fiber.Ctx) error {
	var req addDeviceRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.ErrBadRequest
		}
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}
	token, err := h.twoFactorSvc.RegisterDevice(ctx.Context(), user, req.DeviceName, requestInfo(ctx))
	if err != nil {
		return renderTwoFactorError(ctx, err)
	}
	setDeviceCookie(ctx, token)
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (h *TwoFactorHandler) DeleteDevice(ctx *fiber.Ctx) error {
	deviceID := ctx.Params("deviceID")
	removed, err := h.twoFactorSvc.RemoveDevice(ctx.Context(), CurrentUserID(ctx), deviceID, requestInfo(ctx))
	if err != nil {
		return err
	}
	if !removed {
		return fiber.ErrNotFound
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func NewTwoFactorHandler(userService *users.UserService, twoFactorSvc *twofactor.Service) *TwoFactorHandler {
	return &TwoFactorHandler{
		userService:  userService,
		twoFactorSvc: twoFactorSvc,
	}
}
