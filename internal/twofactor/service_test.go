package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/kinshiphq/kinship/internal/audit"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testReq = RequestInfo{IP: "10.0.0.1", UserAgent: "test-agent/1.0"}

// enableWithEmail walks the full email enrollment and returns the recovery
// codes handed out on first enable.
func enableWithEmail(t *testing.T, svc *Service, notifier *captureNotifier, user *model.User) []string {
	t.Helper()
	ctx := context.Background()

	setup, err := svc.Setup(ctx, user, MethodEmail, "")
	require.NoError(t, err)
	require.Equal(t, MethodEmail, setup.Method)
	require.NotEmpty(t, notifier.lastCode())

	result, err := svc.VerifySetup(ctx, user, MethodEmail, notifier.lastCode(), testReq)
	require.NoError(t, err)
	require.True(t, result.Enabled)
	require.Len(t, result.RecoveryCodes, params.DefaultRecoveryCodes)
	return result.RecoveryCodes
}

func TestServiceEnableWithEmail(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enabled, err := svc.Enabled(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, enabled)

	enableWithEmail(t, svc, notifier, user)

	enabled, err = svc.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 1, notifier.enabledCount)

	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, MethodEmail, status.PreferredMethod)
	assert.Equal(t, []Method{MethodEmail}, status.Methods)
	assert.Equal(t, int64(params.DefaultRecoveryCodes), status.RecoveryCodesLeft)

	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFAEnabled))
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionRecoveryCodesCreated))
}

func TestServiceSetupWrongCode(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.Setup(ctx, user, MethodEmail, "")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == notifier.lastCode() {
		wrong = "000001"
	}
	_, err = svc.VerifySetup(ctx, user, MethodEmail, wrong, testReq)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFASetupFailed))

	enabled, err := svc.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestServiceEnableWithTOTP(t *testing.T) {
	svc, _, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	setup, err := svc.Setup(ctx, user, MethodTOTP, "")
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.EnrollmentURL, "otpauth://totp/")

	// the app-side code computed from the handed-out secret
	code := generateTOTPCode(t, setup.Secret, time.Now())
	result, err := svc.VerifySetup(ctx, user, MethodTOTP, code, testReq)
	require.NoError(t, err)
	assert.True(t, result.Enabled)
	assert.NotEmpty(t, result.RecoveryCodes)

	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, MethodTOTP, status.PreferredMethod)
}

func TestServiceSetupSMSRequiresPhone(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.Setup(ctx, user, MethodSMS, "")
	assert.ErrorIs(t, err, ErrPhoneNumberRequired)

	_, err = svc.Setup(ctx, user, MethodSMS, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", notifier.lastPhone)
	assert.Equal(t, MethodSMS, notifier.lastMethod)
}

func TestServiceVerifySetupWithoutPendingTOTP(t *testing.T) {
	svc, _, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")

	_, err := svc.VerifySetup(context.Background(), user, MethodTOTP, "123456", testReq)
	assert.ErrorIs(t, err, ErrSetupNotPending)
}

func TestServiceLoginFlow(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)

	method, err := svc.SendLoginCode(ctx, user, "", testReq)
	require.NoError(t, err)
	assert.Equal(t, MethodEmail, method)

	result, err := svc.VerifyLogin(ctx, user, Credential{Code: notifier.lastCode()}, false, testReq)
	require.NoError(t, err)
	assert.False(t, result.UsedRecovery)
	assert.Empty(t, result.DeviceToken)

	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFACodeSent))
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFALoginSuccess))
}

func TestServiceLoginNotEnabled(t *testing.T) {
	svc, _, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.SendLoginCode(ctx, user, "", testReq)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = svc.VerifyLogin(ctx, user, Credential{Code: "123456"}, false, testReq)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestServiceLoginWithRecoveryCode(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	codes := enableWithEmail(t, svc, notifier, user)

	result, err := svc.VerifyLogin(ctx, user, Credential{Code: codes[0], Recovery: true}, false, testReq)
	require.NoError(t, err)
	assert.True(t, result.UsedRecovery)
	assert.Equal(t, int64(params.DefaultRecoveryCodes-1), result.RecoveryCodesLeft)
	assert.Equal(t, []int64{int64(params.DefaultRecoveryCodes - 1)}, notifier.recoveryLeft)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionRecoveryCodeUsed))

	// the same recovery code cannot be replayed
	_, err = svc.VerifyLogin(ctx, user, Credential{Code: codes[0], Recovery: true}, false, testReq)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestServiceLoginRememberDevice(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)

	_, err := svc.SendLoginCode(ctx, user, "", testReq)
	require.NoError(t, err)
	result, err := svc.VerifyLogin(ctx, user, Credential{Code: notifier.lastCode()}, true, testReq)
	require.NoError(t, err)
	require.NotEmpty(t, result.DeviceToken)

	token, ok := ParseDeviceToken(result.DeviceToken)
	require.True(t, ok)
	trusted, _ := svc.Devices().IsTrusted(ctx, user.ID, token)
	assert.True(t, trusted)

	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionDeviceAdded))
	assert.Len(t, notifier.deviceNames, 1)
}

func TestServiceLoginLockout(t *testing.T) {
	cfg := testConfig()
	cfg.LockoutThreshold = 3
	svc, notifier, db := newTestService(t, cfg)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)

	for i := 0; i < 2; i++ {
		_, err := svc.VerifyLogin(ctx, user, Credential{Code: "000000"}, false, testReq)
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err := svc.VerifyLogin(ctx, user, Credential{Code: "000000"}, false, testReq)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionAccountLocked))

	// while locked, even a valid code is not considered
	_, err = svc.SendLoginCode(ctx, user, "", testReq)
	assert.ErrorAs(t, err, &locked)

	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, status.LockedUntil)
}

func TestServiceSendLoginCodeRejectsTOTP(t *testing.T) {
	svc, _, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	setup, err := svc.Setup(ctx, user, MethodTOTP, "")
	require.NoError(t, err)
	_, err = svc.VerifySetup(ctx, user, MethodTOTP, generateTOTPCode(t, setup.Secret, time.Now()), testReq)
	require.NoError(t, err)

	// TOTP needs no delivery
	_, err = svc.SendLoginCode(ctx, user, MethodTOTP, testReq)
	assert.ErrorIs(t, err, ErrMethodNotConfigured)
	_, err = svc.SendLoginCode(ctx, user, "", testReq)
	assert.ErrorIs(t, err, ErrMethodNotConfigured)
}

func TestServiceSendLoginCodeRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	svc, notifier, db := newTestService(t, cfg)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	// enrollment consumed one issuance already
	enableWithEmail(t, svc, notifier, user)

	_, err := svc.SendLoginCode(ctx, user, "", testReq)
	require.NoError(t, err)
	_, err = svc.SendLoginCode(ctx, user, "", testReq)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestServicePreferredMethod(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)

	// cannot prefer a method that is not verified
	err := svc.SetPreferredMethod(ctx, user.ID, MethodTOTP)
	assert.ErrorIs(t, err, ErrMethodNotConfigured)

	setup, err := svc.Setup(ctx, user, MethodTOTP, "")
	require.NoError(t, err)
	_, err = svc.VerifySetup(ctx, user, MethodTOTP, generateTOTPCode(t, setup.Secret, time.Now()), testReq)
	require.NoError(t, err)

	require.NoError(t, svc.SetPreferredMethod(ctx, user.ID, MethodTOTP))
	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, MethodTOTP, status.PreferredMethod)
}

func TestServiceRemoveMethod(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)

	// the only verified method cannot be removed while 2FA is on
	err := svc.RemoveMethod(ctx, user, MethodEmail, testReq)
	assert.ErrorIs(t, err, ErrLastMethod)

	setup, err := svc.Setup(ctx, user, MethodTOTP, "")
	require.NoError(t, err)
	_, err = svc.VerifySetup(ctx, user, MethodTOTP, generateTOTPCode(t, setup.Secret, time.Now()), testReq)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveMethod(ctx, user, MethodEmail, testReq))
	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodTOTP}, status.Methods)
	// preferred method re-pointed away from the removed one
	assert.Equal(t, MethodTOTP, status.PreferredMethod)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFAMethodRemoved))
}

func TestServiceDisable(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	codes := enableWithEmail(t, svc, notifier, user)

	_, err := svc.SendLoginCode(ctx, user, "", testReq)
	require.NoError(t, err)
	result, err := svc.VerifyLogin(ctx, user, Credential{Code: notifier.lastCode()}, true, testReq)
	require.NoError(t, err)
	require.NotEmpty(t, result.DeviceToken)

	// disabling needs a fresh proof; recovery codes qualify
	require.NoError(t, svc.Disable(ctx, user, Credential{Code: codes[0], Recovery: true}, testReq))

	enabled, err := svc.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, 1, notifier.disabledCount)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFADisabled))

	// trusted devices and recovery codes went with it
	token, _ := ParseDeviceToken(result.DeviceToken)
	trusted, _ := svc.Devices().IsTrusted(ctx, user.ID, token)
	assert.False(t, trusted)
	left, err := svc.Recovery().CountUnused(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, left)

	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, status.Methods)
}

func TestServiceDisableWithEmailedCode(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.SendDisableCode(ctx, user, "", testReq)
	assert.ErrorIs(t, err, ErrNotConfigured)

	enableWithEmail(t, svc, notifier, user)

	// a login code does not authorize a disable
	_, err = svc.SendLoginCode(ctx, user, "", testReq)
	require.NoError(t, err)
	err = svc.Disable(ctx, user, Credential{Code: notifier.lastCode()}, testReq)
	assert.ErrorIs(t, err, ErrInvalidCode)

	method, err := svc.SendDisableCode(ctx, user, "", testReq)
	require.NoError(t, err)
	assert.Equal(t, MethodEmail, method)
	require.NoError(t, svc.Disable(ctx, user, Credential{Code: notifier.lastCode()}, testReq))

	enabled, err := svc.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFADisabled))
}

func TestServiceSendDisableCodeRejectsTOTP(t *testing.T) {
	svc, _, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	setup, err := svc.Setup(ctx, user, MethodTOTP, "")
	require.NoError(t, err)
	_, err = svc.VerifySetup(ctx, user, MethodTOTP, generateTOTPCode(t, setup.Secret, time.Now()), testReq)
	require.NoError(t, err)

	_, err = svc.SendDisableCode(ctx, user, MethodTOTP, testReq)
	assert.ErrorIs(t, err, ErrMethodNotConfigured)
	_, err = svc.SendDisableCode(ctx, user, "", testReq)
	assert.ErrorIs(t, err, ErrMethodNotConfigured)
}

func TestServiceDisableWrongCode(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)

	err := svc.Disable(ctx, user, Credential{Code: "000000"}, testReq)
	assert.ErrorIs(t, err, ErrInvalidCode)

	enabled, err := svc.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	// the rejection lands under its own action, not the login one
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionTwoFADisableFailed))
	assert.Zero(t, countAuditEvents(t, db, user.ID, audit.ActionTwoFALoginFailed))
}

func TestServiceRegisterDevice(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.RegisterDevice(ctx, user, "", testReq)
	assert.ErrorIs(t, err, ErrNotConfigured)

	enableWithEmail(t, svc, notifier, user)

	tokenStr, err := svc.RegisterDevice(ctx, user, "family laptop", testReq)
	require.NoError(t, err)
	token, ok := ParseDeviceToken(tokenStr)
	require.True(t, ok)
	trusted, _ := svc.Devices().IsTrusted(ctx, user.ID, token)
	assert.True(t, trusted)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionDeviceAdded))
	assert.Len(t, notifier.deviceNames, 1)

	// registering the same device again refreshes instead of duplicating
	_, err = svc.RegisterDevice(ctx, user, "family laptop", testReq)
	require.NoError(t, err)
	devices, err := svc.Devices().List(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionDeviceRefreshed))
}

func TestServiceGenerateRecoveryCodes(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.GenerateRecoveryCodes(ctx, user, testReq)
	assert.ErrorIs(t, err, ErrNotConfigured)

	old := enableWithEmail(t, svc, notifier, user)
	fresh, err := svc.GenerateRecoveryCodes(ctx, user, testReq)
	require.NoError(t, err)
	require.Len(t, fresh, params.DefaultRecoveryCodes)

	// regeneration invalidates the enrollment batch
	_, err = svc.VerifyLogin(ctx, user, Credential{Code: old[0], Recovery: true}, false, testReq)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = svc.VerifyLogin(ctx, user, Credential{Code: fresh[0], Recovery: true}, false, testReq)
	assert.NoError(t, err)
}

func TestServiceCleanupExpiredCodes(t *testing.T) {
	cfg := testConfig()
	cfg.CodeExpiry = -time.Minute
	svc, notifier, db := newTestService(t, cfg)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, err := svc.Setup(ctx, user, MethodEmail, "")
	require.NoError(t, err)
	require.NotEmpty(t, notifier.lastCode())

	removed, err := svc.CleanupExpiredCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestServiceRemoveDevice(t *testing.T) {
	svc, notifier, db := newTestService(t, testConfig())
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	enableWithEmail(t, svc, notifier, user)
	_, err := svc.SendLoginCode(ctx, user, "", testReq)
	require.NoError(t, err)
	result, err := svc.VerifyLogin(ctx, user, Credential{Code: notifier.lastCode()}, true, testReq)
	require.NoError(t, err)

	token, _ := ParseDeviceToken(result.DeviceToken)
	removed, err := svc.RemoveDevice(ctx, user.ID, token.DeviceID, testReq)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, int64(1), countAuditEvents(t, db, user.ID, audit.ActionDeviceRemoved))

	removed, err = svc.RemoveDevice(ctx, user.ID, token.DeviceID, testReq)
	require.NoError(t, err)
	assert.False(t, removed)
}
