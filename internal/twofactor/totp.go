package twofactor

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"log/slog"
	"time"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30

// TOTPEngine manages authenticator-app secrets and validates time-based
// codes with a ±1 step drift window.
type TOTPEngine struct {
	cfg          Config
	settingsRepo SettingsRepository
}

// GenerateSecret returns a fresh 32-character base32 secret.
func (e *TOTPEngine) GenerateSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// EncryptSecret seals a secret for storage at rest.
func (e *TOTPEngine) EncryptSecret(secret string) (string, error) {
	return common.EncryptString(e.cfg.MasterKey, secret)
}

func (e *TOTPEngine) DecryptSecret(sealed string) (string, error) {
	return common.DecryptString(e.cfg.MasterKey, sealed)
}

// EnrollmentURL builds the otpauth:// URL encoded into the setup QR code.
func (e *TOTPEngine) EnrollmentURL(issuer, accountName, secret string) (string, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Secret:      raw,
	})
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

// matchTOTPWindow reports the time step a code belongs to, probing the
// current step and one step either side. Each candidate is validated with
// zero skew so a match pins the code to exactly one step; the replay guard
// in Verify depends on that.
func matchTOTPWindow(code, secret string, now time.Time) (int64, bool) {
	base := now.Unix() / totpPeriod
	for _, offset := range []int64{0, -1, 1} {
		window := base + offset
		ok, err := totp.ValidateCustom(code, secret, time.Unix(window*totpPeriod, 0), totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      0,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && ok {
			return window, true
		}
	}
	return 0, false
}

// Verify validates a code against the user's stored secret. The step the
// code belongs to must be strictly newer than the last accepted step, which
// blocks replay of an intercepted code for as long as drift tolerance would
// still match it. Returns StatusInvalid when no secret is configured; never
// panics or propagates.
func (e *TOTPEngine) Verify(ctx context.Context, userID uint, code string) VerifyStatus {
	settings, err := e.settingsRepo.Get(ctx, userID)
	if err != nil {
		return StatusInvalid
	}
	if settings.TOTPSecret == "" {
		return StatusInvalid
	}
	secret, err := e.DecryptSecret(settings.TOTPSecret)
	if err != nil {
		slog.Error("TOTP secret decryption failed", "user", userID, "error", err)
		return StatusFailed
	}
	window, ok := matchTOTPWindow(code, secret, time.Now())
	if !ok {
		return StatusInvalid
	}
	if window <= settings.LastTOTPWindow {
		return StatusInvalid
	}
	err = e.settingsRepo.Updates(ctx, userID, map[string]interface{}{"last_totp_window": window})
	if err != nil {
		slog.Error("TOTP window update failed", "user", userID, "error", err)
		return StatusFailed
	}
	return StatusVerified
}

func NewTOTPEngine(cfg Config, settingsRepo SettingsRepository) *TOTPEngine {
	return &TOTPEngine{
		cfg:          cfg.withDefaults(),
		settingsRepo: settingsRepo,
	}
}
