package twofactor

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
)

const recoveryCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RecoveryManager owns the backup-code lifecycle. Plaintext codes exist
// only in the return value of Generate; rows keep per-code salted hashes.
type RecoveryManager struct {
	cfg          Config
	recoveryRepo RecoveryRepository
}

func generateRecoveryCode() string {
	var b strings.Builder
	max := big.NewInt(int64(len(recoveryCodeCharset)))
	for g := 0; g < params.RecoveryCodeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < params.RecoveryCodeGroupSize; i++ {
			n, _ := rand.Int(rand.Reader, max)
			b.WriteByte(recoveryCodeCharset[n.Int64()])
		}
	}
	return b.String()
}

func normalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func hashRecoveryCode(salt []byte, code string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(normalizeRecoveryCode(code)))
	return hex.EncodeToString(h.Sum(nil))
}

func sealRecoveryCode(code string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return hex.EncodeToString(salt) + "$" + hashRecoveryCode(salt, code), nil
}

func matchRecoveryCode(sealed string, code string) bool {
	saltHex, want, found := strings.Cut(sealed, "$")
	if !found {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(hashRecoveryCode(salt, code)), []byte(want))
}

// Generate replaces the user's unused codes with a fresh batch and returns
// the plaintexts. This is the only moment the plaintexts exist; the caller
// must hand them to the user immediately.
func (m *RecoveryManager) Generate(ctx context.Context, userID uint, count int) ([]string, error) {
	if count <= 0 {
		count = params.DefaultRecoveryCodes
	}
	if err := m.recoveryRepo.DeleteUnused(ctx, userID); err != nil {
		return nil, err
	}
	plaintexts := make([]string, 0, count)
	rows := make([]*model.RecoveryCode, 0, count)
	for len(plaintexts) < count {
		code := generateRecoveryCode()
		sealed, err := sealRecoveryCode(code)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		rows = append(rows, &model.RecoveryCode{
			UserID:   userID,
			CodeHash: sealed,
		})
	}
	if err := m.recoveryRepo.CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	return plaintexts, nil
}

// Verify matches case-insensitively against the stored hashes and consumes
// the matching code atomically: a concurrent submission of the same code
// finds the used flag already flipped and fails.
func (m *RecoveryManager) Verify(ctx context.Context, userID uint, code string) VerifyStatus {
	if len(normalizeRecoveryCode(code)) != params.RecoveryCodeGroups*params.RecoveryCodeGroupSize+params.RecoveryCodeGroups-1 {
		return StatusInvalid
	}
	unused, err := m.recoveryRepo.FindUnused(ctx, userID)
	if err != nil {
		slog.Error("Recovery code lookup failed", "user", userID, "error", err)
		return StatusFailed
	}
	for _, row := range unused {
		if !matchRecoveryCode(row.CodeHash, code) {
			continue
		}
		consumed, err := m.recoveryRepo.Consume(ctx, row.ID)
		if err != nil {
			slog.Error("Recovery code consume failed", "user", userID, "error", err)
			return StatusFailed
		}
		if !consumed {
			return StatusInvalid
		}
		return StatusVerified
	}
	return StatusInvalid
}

func (m *RecoveryManager) CountUnused(ctx context.Context, userID uint) (int64, error) {
	return m.recoveryRepo.CountUnused(ctx, userID)
}

// ErrBadRecoveryFormat is reported by format validation on export requests.
var ErrBadRecoveryFormat = fmt.Errorf("malformed recovery code")

func NewRecoveryManager(cfg Config, recoveryRepo RecoveryRepository) *RecoveryManager {
	return &RecoveryManager{
		cfg:          cfg.withDefaults(),
		recoveryRepo: recoveryRepo,
	}
}
