package twofactor

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

const otpLength = 6

// OTPEngine issues and verifies numeric one-time codes delivered by email
// or SMS. Codes are stored as keyed hashes only.
type OTPEngine struct {
	cfg      Config
	codeRepo CodeRepository
}

func generateOTP(length int) string {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, _ := rand.Int(rand.Reader, ten)
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}

func (e *OTPEngine) hashCode(userID uint, purpose Purpose, code string) string {
	return common.CalculateHash(e.cfg.MasterKey, userID, string(purpose), code)
}

// Issue invalidates every outstanding code for the (user, method, purpose)
// tuple and creates a fresh one, so two simultaneously valid codes can never
// exist for the same tuple. The plaintext is returned exactly once for
// delivery and never stored.
func (e *OTPEngine) Issue(ctx context.Context, userID uint, method Method, purpose Purpose) (string, *model.TwoFactorCode, error) {
	if err := e.codeRepo.InvalidateActive(ctx, userID, method, purpose); err != nil {
		return "", nil, err
	}
	plaintext := generateOTP(otpLength)
	code := &model.TwoFactorCode{
		UserID:      userID,
		CodeHash:    e.hashCode(userID, purpose, plaintext),
		Method:      method.String(),
		Purpose:     string(purpose),
		MaxAttempts: e.cfg.CodeMaxAttempts,
		ExpiresAt:   time.Now().Add(e.cfg.CodeExpiry),
	}
	if err := e.codeRepo.Create(ctx, code); err != nil {
		return "", nil, err
	}
	return plaintext, code, nil
}

// Verify checks a submitted code. Every lookup hit increments the attempt
// counter regardless of outcome; expiry, prior use and exhausted attempts
// all resolve to StatusInvalid. Infrastructure errors resolve to
// StatusFailed, never to success.
func (e *OTPEngine) Verify(ctx context.Context, userID uint, submitted string, purpose Purpose) VerifyStatus {
	submitted = strings.TrimSpace(submitted)
	if len(submitted) != otpLength {
		return StatusInvalid
	}
	code, err := e.codeRepo.FindValid(ctx, userID, e.hashCode(userID, purpose, submitted), purpose)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusInvalid
	}
	if err != nil {
		slog.Error("OTP lookup failed", "user", userID, "error", err)
		return StatusFailed
	}

	attempts, err := e.codeRepo.IncrementAttempts(ctx, code.ID)
	if err != nil {
		slog.Error("OTP attempt count update failed", "user", userID, "error", err)
		return StatusFailed
	}
	if attempts > code.MaxAttempts {
		return StatusInvalid
	}
	if code.IsExpired() {
		return StatusInvalid
	}

	used, err := e.codeRepo.MarkUsed(ctx, code.ID)
	if err != nil {
		slog.Error("OTP consume failed", "user", userID, "error", err)
		return StatusFailed
	}
	if !used {
		// a concurrent submission won the race
		return StatusInvalid
	}
	return StatusVerified
}

func NewOTPEngine(cfg Config, codeRepo CodeRepository) *OTPEngine {
	return &OTPEngine{
		cfg:      cfg.withDefaults(),
		codeRepo: codeRepo,
	}
}
