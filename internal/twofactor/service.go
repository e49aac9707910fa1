package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/kinshiphq/kinship/internal/audit"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
	"gorm.io/gorm"
)

// RequestInfo is the client context attached to every security decision.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// SetupInfo is returned when a method setup begins. Secret and
// EnrollmentURL are populated for TOTP only and must be shown to the user
// exactly once.
type SetupInfo struct {
	Method        Method
	Secret        string
	EnrollmentURL string
}

// EnableResult reports a completed setup verification. RecoveryCodes is
// non-nil only when this verification enabled 2FA for the first time.
type EnableResult struct {
	Method        Method
	Enabled       bool
	RecoveryCodes []string
}

// Status is the user-visible state of the 2FA subsystem.
type Status struct {
	Enabled            bool
	PreferredMethod    Method
	Methods            []Method
	RecoveryCodesLeft  int64
	TrustedDeviceCount int64
	LockedUntil        *time.Time
}

// Credential is a second-factor proof presented at login or disable time:
// either a code for a named method, or a recovery code.
type Credential struct {
	Method   Method
	Code     string
	Recovery bool
}

// LoginResult reports an accepted second factor.
type LoginResult struct {
	UsedRecovery      bool
	RecoveryCodesLeft int64
	DeviceToken       string // set when the client asked to be remembered
}

// Service orchestrates the full two-factor lifecycle: enrollment,
// verification, lockout, recovery codes, trusted devices and partial
// tokens. Every decision lands in the audit log via the injected recorder.
type Service struct {
	cfg          Config
	settingsRepo SettingsRepository
	codeRepo     CodeRepository
	otp          *OTPEngine
	totp         *TOTPEngine
	recovery     *RecoveryManager
	devices      *DeviceManager
	partials     *PartialTokenStore
	limiter      *Limiter
	auditor      audit.Recorder
	notifier     Notifier
}

func NewService(cfg Config, db *gorm.DB, storage store.Storage, auditor audit.Recorder, notifier Notifier) *Service {
	cfg = cfg.withDefaults()
	settingsRepo := NewSettingsRepository(db)
	codeRepo := NewCodeRepository(db)
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		cfg:          cfg,
		settingsRepo: settingsRepo,
		codeRepo:     codeRepo,
		otp:          NewOTPEngine(cfg, codeRepo),
		totp:         NewTOTPEngine(cfg, settingsRepo),
		recovery:     NewRecoveryManager(cfg, NewRecoveryRepository(db)),
		devices:      NewDeviceManager(cfg, NewDeviceRepository(db)),
		partials:     NewPartialTokenStore(cfg, storage),
		limiter:      NewLimiter(cfg, settingsRepo, codeRepo),
		auditor:      auditor,
		notifier:     notifier,
	}
}

func (s *Service) OTP() *OTPEngine                   { return s.otp }
func (s *Service) TOTP() *TOTPEngine                 { return s.totp }
func (s *Service) Recovery() *RecoveryManager        { return s.recovery }
func (s *Service) Devices() *DeviceManager           { return s.devices }
func (s *Service) PartialTokens() *PartialTokenStore { return s.partials }

// Enabled reports whether the user has 2FA switched on. Missing settings
// read as disabled.
func (s *Service) Enabled(ctx context.Context, userID uint) (bool, error) {
	settings, err := s.settingsRepo.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return settings.IsEnabled, nil
}

func (s *Service) Status(ctx context.Context, userID uint) (*Status, error) {
	settings, err := s.settingsRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &Status{
		Enabled:         settings.IsEnabled,
		PreferredMethod: Method(settings.PreferredMethod),
	}
	if settings.TOTPVerified {
		status.Methods = append(status.Methods, MethodTOTP)
	}
	if settings.EmailVerified {
		status.Methods = append(status.Methods, MethodEmail)
	}
	if settings.SMSVerified {
		status.Methods = append(status.Methods, MethodSMS)
	}
	if settings.LockedUntil != nil && settings.LockedUntil.After(time.Now()) {
		status.LockedUntil = settings.LockedUntil
	}
	if status.RecoveryCodesLeft, err = s.recovery.CountUnused(ctx, userID); err != nil {
		return nil, err
	}
	devices, err := s.devices.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	status.TrustedDeviceCount = int64(len(devices))
	return status, nil
}

// Setup begins enrollment of a method. TOTP hands back the secret and
// enrollment URL for the authenticator app; email and SMS send a
// verification code to the destination being proven. Nothing is marked
// verified until VerifySetup succeeds.
func (s *Service) Setup(ctx context.Context, user *model.User, method Method, phoneNumber string) (*SetupInfo, error) {
	settings, err := s.settingsRepo.GetOrCreate(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	switch method {
	case MethodTOTP:
		secret, err := s.totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		sealed, err := s.totp.EncryptSecret(secret)
		if err != nil {
			return nil, err
		}
		// replacing the secret always re-arms verification
		err = s.settingsRepo.Updates(ctx, user.ID, map[string]interface{}{
			"totp_secret":      sealed,
			"totp_verified":    false,
			"last_totp_window": 0,
		})
		if err != nil {
			return nil, err
		}
		url, err := s.totp.EnrollmentURL(params.TOTPIssuer, user.Email, secret)
		if err != nil {
			return nil, err
		}
		return &SetupInfo{Method: method, Secret: secret, EnrollmentURL: url}, nil
	case MethodEmail:
		if err := s.sendCode(ctx, user, settings, method, PurposeSetup); err != nil {
			return nil, err
		}
		return &SetupInfo{Method: method}, nil
	case MethodSMS:
		if phoneNumber == "" {
			phoneNumber = settings.PhoneNumber
		}
		if phoneNumber == "" {
			return nil, ErrPhoneNumberRequired
		}
		err = s.settingsRepo.Updates(ctx, user.ID, map[string]interface{}{
			"phone_number": phoneNumber,
			"sms_verified": false,
		})
		if err != nil {
			return nil, err
		}
		settings.PhoneNumber = phoneNumber
		if err := s.sendCode(ctx, user, settings, method, PurposeSetup); err != nil {
			return nil, err
		}
		return &SetupInfo{Method: method}, nil
	default:
		return nil, ErrUnknownMethod
	}
}

// VerifySetup completes enrollment. The first successful verification
// enables 2FA, sets the preferred method and mints the initial recovery
// code batch.
func (s *Service) VerifySetup(ctx context.Context, user *model.User, method Method, code string, req RequestInfo) (*EnableResult, error) {
	settings, err := s.settingsRepo.GetOrCreate(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	var status VerifyStatus
	switch method {
	case MethodTOTP:
		if settings.TOTPSecret == "" {
			return nil, ErrSetupNotPending
		}
		status = s.totp.Verify(ctx, user.ID, code)
	case MethodEmail, MethodSMS:
		status = s.otp.Verify(ctx, user.ID, code, PurposeSetup)
	default:
		return nil, ErrUnknownMethod
	}
	if !status.Verified() {
		s.auditor.Record(ctx, audit.Event{
			UserID: user.ID, Action: audit.ActionTwoFASetupFailed,
			Method: method.String(), IP: req.IP, UserAgent: req.UserAgent,
		})
		return nil, ErrInvalidCode
	}

	columns := map[string]interface{}{}
	switch method {
	case MethodTOTP:
		columns["totp_verified"] = true
	case MethodEmail:
		columns["email_verified"] = true
	case MethodSMS:
		columns["sms_verified"] = true
	}
	firstEnable := !settings.IsEnabled
	if firstEnable {
		columns["is_enabled"] = true
	}
	if settings.PreferredMethod == "" {
		columns["preferred_method"] = method.String()
	}
	if err := s.settingsRepo.Updates(ctx, user.ID, columns); err != nil {
		return nil, err
	}

	result := &EnableResult{Method: method, Enabled: true}
	if firstEnable {
		if result.RecoveryCodes, err = s.recovery.Generate(ctx, user.ID, params.DefaultRecoveryCodes); err != nil {
			return nil, err
		}
		s.auditor.Record(ctx, audit.Event{
			UserID: user.ID, Action: audit.ActionRecoveryCodesCreated,
			IP: req.IP, UserAgent: req.UserAgent, Success: true,
		})
		s.notifier.NotifyTwoFactorEnabled(ctx, user)
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionTwoFAEnabled,
		Method: method.String(), IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	return result, nil
}

// SetPreferredMethod changes the default delivery method; the method must
// already be verified.
func (s *Service) SetPreferredMethod(ctx context.Context, userID uint, method Method) error {
	settings, err := s.settingsRepo.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotConfigured
	}
	if err != nil {
		return err
	}
	if !methodVerified(settings, method) {
		return ErrMethodNotConfigured
	}
	return s.settingsRepo.Updates(ctx, userID, map[string]interface{}{
		"preferred_method": method.String(),
	})
}

// RemoveMethod un-enrolls a verified method. The last verified method
// cannot be removed while 2FA stays enabled; Disable is the way out.
func (s *Service) RemoveMethod(ctx context.Context, user *model.User, method Method, req RequestInfo) error {
	settings, err := s.settingsRepo.Get(ctx, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotConfigured
	}
	if err != nil {
		return err
	}
	if !methodVerified(settings, method) {
		return ErrMethodNotConfigured
	}
	if settings.IsEnabled && verifiedCount(settings) <= 1 {
		return ErrLastMethod
	}

	columns := map[string]interface{}{}
	switch method {
	case MethodTOTP:
		columns["totp_secret"] = ""
		columns["totp_verified"] = false
		columns["last_totp_window"] = 0
	case MethodEmail:
		columns["email_verified"] = false
	case MethodSMS:
		columns["phone_number"] = ""
		columns["sms_verified"] = false
	default:
		return ErrUnknownMethod
	}
	if Method(settings.PreferredMethod) == method {
		columns["preferred_method"] = firstVerifiedExcept(settings, method).String()
	}
	if err := s.settingsRepo.Updates(ctx, user.ID, columns); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionTwoFAMethodRemoved,
		Method: method.String(), IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	return nil
}

// SendDisableCode issues and delivers an OTP that authorizes turning 2FA
// off, over the requested method or the preferred one when none is named.
// TOTP users confirm with their authenticator directly and are rejected
// here.
func (s *Service) SendDisableCode(ctx context.Context, user *model.User, method Method, req RequestInfo) (Method, error) {
	settings, err := s.settingsRepo.Get(ctx, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", err
	}
	if !settings.IsEnabled {
		return "", ErrNotConfigured
	}
	if method == "" {
		method = Method(settings.PreferredMethod)
	}
	if method == MethodTOTP {
		return "", ErrMethodNotConfigured
	}
	if !methodVerified(settings, method) {
		return "", ErrMethodNotConfigured
	}
	if err := s.limiter.CheckLocked(ctx, user.ID); err != nil {
		return "", err
	}
	if err := s.sendCode(ctx, user, settings, method, PurposeDisable); err != nil {
		return "", err
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionTwoFACodeSent,
		Method: method.String(), IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	return method, nil
}

// Disable turns 2FA off after the user proves possession of a valid second
// factor: a TOTP code, a recovery code, or an OTP issued by
// SendDisableCode. All method state, outstanding recovery codes and trusted
// devices are discarded.
func (s *Service) Disable(ctx context.Context, user *model.User, cred Credential, req RequestInfo) error {
	settings, err := s.settingsRepo.Get(ctx, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotConfigured
	}
	if err != nil {
		return err
	}
	if !settings.IsEnabled {
		return ErrNotConfigured
	}
	if err := s.limiter.CheckLocked(ctx, user.ID); err != nil {
		return err
	}

	status := s.verifyCredential(ctx, settings, cred, PurposeDisable)
	if !status.Verified() {
		if lockErr := s.recordFailure(ctx, user.ID, audit.ActionTwoFADisableFailed, "disable rejected", req); lockErr != nil {
			return lockErr
		}
		return ErrInvalidCode
	}
	if err := s.limiter.RecordSuccess(ctx, user.ID); err != nil {
		return err
	}

	err = s.settingsRepo.Updates(ctx, user.ID, map[string]interface{}{
		"is_enabled":       false,
		"preferred_method": "",
		"totp_secret":      "",
		"totp_verified":    false,
		"last_totp_window": 0,
		"phone_number":     "",
		"sms_verified":     false,
		"email_verified":   false,
	})
	if err != nil {
		return err
	}
	if err := s.recovery.recoveryRepo.DeleteUnused(ctx, user.ID); err != nil {
		return err
	}
	if err := s.devices.deviceRepo.DeleteAll(ctx, user.ID); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionTwoFADisabled,
		IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	s.notifier.NotifyTwoFactorDisabled(ctx, user)
	return nil
}

// GenerateRecoveryCodes replaces the user's unused recovery codes. Requires
// 2FA to be enabled.
func (s *Service) GenerateRecoveryCodes(ctx context.Context, user *model.User, req RequestInfo) ([]string, error) {
	enabled, err := s.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrNotConfigured
	}
	codes, err := s.recovery.Generate(ctx, user.ID, params.DefaultRecoveryCodes)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionRecoveryCodesCreated,
		IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	return codes, nil
}

// SendLoginCode issues and delivers a login OTP over the requested method,
// or the preferred method when none is named. TOTP needs no delivery and is
// rejected here.
func (s *Service) SendLoginCode(ctx context.Context, user *model.User, method Method, req RequestInfo) (Method, error) {
	settings, err := s.settingsRepo.Get(ctx, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", err
	}
	if !settings.IsEnabled {
		return "", ErrNotConfigured
	}
	if method == "" {
		method = Method(settings.PreferredMethod)
	}
	if method == MethodTOTP {
		return "", ErrMethodNotConfigured
	}
	if !methodVerified(settings, method) {
		return "", ErrMethodNotConfigured
	}
	if err := s.limiter.CheckLocked(ctx, user.ID); err != nil {
		return "", err
	}
	if err := s.sendCode(ctx, user, settings, method, PurposeLogin); err != nil {
		return "", err
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionTwoFACodeSent,
		Method: method.String(), IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	return method, nil
}

// VerifyLogin checks the presented second factor and completes the login
// step. Failures feed the lockout counter; success resets it. When
// rememberDevice is set, the device is registered and the fresh token
// returned for the client cookie.
func (s *Service) VerifyLogin(ctx context.Context, user *model.User, cred Credential, rememberDevice bool, req RequestInfo) (*LoginResult, error) {
	settings, err := s.settingsRepo.Get(ctx, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	if !settings.IsEnabled {
		return nil, ErrNotConfigured
	}
	if err := s.limiter.CheckLocked(ctx, user.ID); err != nil {
		return nil, err
	}

	status := s.verifyCredential(ctx, settings, cred, PurposeLogin)
	if !status.Verified() {
		if lockErr := s.recordFailure(ctx, user.ID, audit.ActionTwoFALoginFailed, loginFailureReason(cred), req); lockErr != nil {
			return nil, lockErr
		}
		return nil, ErrInvalidCode
	}
	if err := s.limiter.RecordSuccess(ctx, user.ID); err != nil {
		return nil, err
	}

	result := &LoginResult{UsedRecovery: cred.Recovery}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: audit.ActionTwoFALoginSuccess,
		Method: credentialMethod(cred), IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	if cred.Recovery {
		if result.RecoveryCodesLeft, err = s.recovery.CountUnused(ctx, user.ID); err != nil {
			return nil, err
		}
		s.auditor.Record(ctx, audit.Event{
			UserID: user.ID, Action: audit.ActionRecoveryCodeUsed,
			IP: req.IP, UserAgent: req.UserAgent, Success: true,
		})
		s.notifier.NotifyRecoveryCodeUsed(ctx, user, result.RecoveryCodesLeft)
	}
	if rememberDevice {
		device, token, created, err := s.devices.Add(ctx, user.ID, Fingerprint{
			IP:        req.IP,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		result.DeviceToken = token.String()
		action := audit.ActionDeviceRefreshed
		if created {
			action = audit.ActionDeviceAdded
			s.notifier.NotifyDeviceAdded(ctx, user, device.DeviceName)
		}
		s.auditor.Record(ctx, audit.Event{
			UserID: user.ID, Action: action,
			IP: req.IP, UserAgent: req.UserAgent, Success: true,
		})
	}
	return result, nil
}

// CleanupExpiredCodes reclaims storage for codes that expired before now.
func (s *Service) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	return s.codeRepo.DeleteExpiredBefore(ctx, time.Now())
}

// RemoveDevice revokes one trusted device.
func (s *Service) RemoveDevice(ctx context.Context, userID uint, deviceID string, req RequestInfo) (bool, error) {
	removed, err := s.devices.Remove(ctx, userID, deviceID)
	if err != nil {
		return false, err
	}
	if removed {
		s.auditor.Record(ctx, audit.Event{
			UserID: userID, Action: audit.ActionDeviceRemoved,
			IP: req.IP, UserAgent: req.UserAgent, Success: true,
		})
	}
	return removed, nil
}

// RegisterDevice trusts the calling device for a user who is already fully
// authenticated, outside the login flow. Requires 2FA to be enabled; the
// returned token goes into the client cookie.
func (s *Service) RegisterDevice(ctx context.Context, user *model.User, deviceName string, req RequestInfo) (string, error) {
	enabled, err := s.Enabled(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", ErrNotConfigured
	}
	device, token, created, err := s.devices.Add(ctx, user.ID, Fingerprint{
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		DeviceName: deviceName,
	})
	if err != nil {
		return "", err
	}
	action := audit.ActionDeviceRefreshed
	if created {
		action = audit.ActionDeviceAdded
		s.notifier.NotifyDeviceAdded(ctx, user, device.DeviceName)
	}
	s.auditor.Record(ctx, audit.Event{
		UserID: user.ID, Action: action,
		IP: req.IP, UserAgent: req.UserAgent, Success: true,
	})
	return token.String(), nil
}

func (s *Service) sendCode(ctx context.Context, user *model.User, settings *model.TwoFactorSettings, method Method, purpose Purpose) error {
	if err := s.limiter.CheckIssuance(ctx, user.ID); err != nil {
		return err
	}
	plaintext, _, err := s.otp.Issue(ctx, user.ID, method, purpose)
	if err != nil {
		return err
	}
	s.notifier.NotifyOTP(ctx, user, method, settings.PhoneNumber, plaintext)
	return nil
}

func (s *Service) verifyCredential(ctx context.Context, settings *model.TwoFactorSettings, cred Credential, purpose Purpose) VerifyStatus {
	if cred.Recovery {
		return s.recovery.Verify(ctx, settings.UserID, cred.Code)
	}
	method := cred.Method
	if method == "" {
		method = Method(settings.PreferredMethod)
	}
	if !methodVerified(settings, method) {
		return StatusInvalid
	}
	switch method {
	case MethodTOTP:
		return s.totp.Verify(ctx, settings.UserID, cred.Code)
	case MethodEmail, MethodSMS:
		return s.otp.Verify(ctx, settings.UserID, cred.Code, purpose)
	default:
		return StatusInvalid
	}
}

// recordFailure feeds the lockout counter and audits under the flow's own
// action; returns the LockedError when this failure started a lockout.
func (s *Service) recordFailure(ctx context.Context, userID uint, action, reason string, req RequestInfo) error {
	err := s.limiter.RecordFailure(ctx, userID)
	s.auditor.Record(ctx, audit.Event{
		UserID: userID, Action: action,
		IP: req.IP, UserAgent: req.UserAgent, Reason: reason,
	})
	var lockedErr *LockedError
	if errors.As(err, &lockedErr) {
		s.auditor.Record(ctx, audit.Event{
			UserID: userID, Action: audit.ActionAccountLocked,
			IP: req.IP, UserAgent: req.UserAgent, Reason: reason,
		})
		return lockedErr
	}
	if err != nil {
		return err
	}
	return nil
}

func credentialMethod(cred Credential) string {
	if cred.Recovery {
		return "recovery"
	}
	return cred.Method.String()
}

func loginFailureReason(cred Credential) string {
	if cred.Recovery {
		return "recovery code rejected"
	}
	return "verification code rejected"
}

func methodVerified(settings *model.TwoFactorSettings, method Method) bool {
	switch method {
	case MethodTOTP:
		return settings.TOTPVerified
	case MethodEmail:
		return settings.EmailVerified
	case MethodSMS:
		return settings.SMSVerified
	default:
		return false
	}
}

func verifiedCount(settings *model.TwoFactorSettings) int {
	count := 0
	for _, m := range []Method{MethodTOTP, MethodEmail, MethodSMS} {
		if methodVerified(settings, m) {
			count++
		}
	}
	return count
}

func firstVerifiedExcept(settings *model.TwoFactorSettings, skip Method) Method {
	for _, m := range []Method{MethodTOTP, MethodEmail, MethodSMS} {
		if m != skip && methodVerified(settings, m) {
			return m
		}
	}
	return ""
}
