package twofactor

import (
	"context"
	"crypto/hmac"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

// Fingerprint is the stable part of a client request used to recognise a
// returning device. Only keyed hashes of it are persisted.
type Fingerprint struct {
	IP         string
	UserAgent  string
	DeviceName string
}

// DeviceToken is what the client stores (in an httponly cookie): the opaque
// device id plus the current secret. The server keeps only a keyed hash of
// the pair, so possession of the database does not yield valid tokens.
type DeviceToken struct {
	DeviceID string
	Secret   string
}

func (t DeviceToken) String() string {
	return t.DeviceID + "." + t.Secret
}

func ParseDeviceToken(s string) (DeviceToken, bool) {
	deviceID, secret, found := strings.Cut(s, ".")
	if !found || deviceID == "" || secret == "" {
		return DeviceToken{}, false
	}
	return DeviceToken{DeviceID: deviceID, Secret: secret}, true
}

// DeviceManager issues, validates and rotates trusted-device tokens and
// enforces the per-account device cap.
type DeviceManager struct {
	cfg        Config
	deviceRepo DeviceRepository
}

func (m *DeviceManager) fingerprintHashes(userID uint, fp Fingerprint) (ipHash, uaHash string) {
	ipHash = common.CalculateHash(m.cfg.MasterKey, userID, "ip", fp.IP)
	uaHash = common.CalculateHash(m.cfg.MasterKey, userID, "ua", fp.UserAgent)
	return ipHash, uaHash
}

// generateDeviceID mixes the fingerprint with a random salt so an attacker
// who knows the client signals cannot precompute the identifier.
func (m *DeviceManager) generateDeviceID(userID uint, fp Fingerprint) (string, error) {
	salt, err := common.GenerateSecret(16)
	if err != nil {
		return "", err
	}
	return common.CalculateHash(m.cfg.MasterKey, userID, fp.IP, fp.UserAgent, salt)[:32], nil
}

func (m *DeviceManager) secretHash(deviceID, secret string) string {
	return common.CalculateHash(m.cfg.MasterKey, "device", deviceID, secret)
}

func (m *DeviceManager) newToken(deviceID string) (DeviceToken, string, error) {
	secret, err := common.GenerateSecret(32)
	if err != nil {
		return DeviceToken{}, "", err
	}
	token := DeviceToken{DeviceID: deviceID, Secret: secret}
	return token, m.secretHash(deviceID, secret), nil
}

// Add remembers the requesting device for cfg.TrustedDeviceTTL. The call is
// idempotent per fingerprint: an unexpired matching device is refreshed and
// re-tokened instead of duplicated. At the cap, the oldest active device by
// created_at is evicted first; the whole check-evict-insert runs in one
// transaction so concurrent additions cannot overshoot the cap.
func (m *DeviceManager) Add(ctx context.Context, userID uint, fp Fingerprint) (*model.TrustedDevice, DeviceToken, bool, error) {
	ipHash, uaHash := m.fingerprintHashes(userID, fp)
	expiresAt := time.Now().Add(m.cfg.TrustedDeviceTTL)

	var (
		device  *model.TrustedDevice
		token   DeviceToken
		created bool
	)
	err := m.deviceRepo.Transaction(ctx, func(repo DeviceRepository) error {
		existing, err := repo.FindByFingerprint(ctx, userID, ipHash, uaHash)
		if err == nil {
			tok, hash, err := m.newToken(existing.DeviceID)
			if err != nil {
				return err
			}
			err = repo.Updates(ctx, existing.ID, map[string]interface{}{
				"secret_hash":  hash,
				"expires_at":   expiresAt,
				"last_used_at": time.Now(),
			})
			if err != nil {
				return err
			}
			existing.SecretHash = hash
			existing.ExpiresAt = expiresAt
			device, token, created = existing, tok, false
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		count, err := repo.CountActive(ctx, userID)
		if err != nil {
			return err
		}
		if count >= int64(m.cfg.TrustedDeviceMax) {
			if err := repo.DeleteOldest(ctx, userID); err != nil {
				return err
			}
		}

		deviceID, err := m.generateDeviceID(userID, fp)
		if err != nil {
			return err
		}
		tok, hash, err := m.newToken(deviceID)
		if err != nil {
			return err
		}
		fresh := &model.TrustedDevice{
			UserID:     userID,
			DeviceID:   deviceID,
			SecretHash: hash,
			IPHash:     ipHash,
			UAHash:     uaHash,
			DeviceName: fp.DeviceName,
			ExpiresAt:  expiresAt,
			LastUsedAt: time.Now(),
		}
		if err := repo.Create(ctx, fresh); err != nil {
			return err
		}
		device, token, created = fresh, tok, true
		return nil
	})
	if err != nil {
		return nil, DeviceToken{}, false, err
	}
	return device, token, created, nil
}

// IsTrusted validates a presented token. On success the device's last-used
// timestamp advances and the secret rotates, so a captured token ages out
// after its next legitimate use. Any failure returns (false, zero token);
// the method never reports why.
func (m *DeviceManager) IsTrusted(ctx context.Context, userID uint, token DeviceToken) (bool, DeviceToken) {
	device, err := m.deviceRepo.GetByDeviceID(ctx, userID, token.DeviceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, DeviceToken{}
	}
	if err != nil {
		slog.Error("Trusted device lookup failed", "user", userID, "error", err)
		return false, DeviceToken{}
	}
	if device.IsExpired() {
		return false, DeviceToken{}
	}
	if !hmac.Equal([]byte(m.secretHash(token.DeviceID, token.Secret)), []byte(device.SecretHash)) {
		return false, DeviceToken{}
	}

	rotated, hash, err := m.newToken(device.DeviceID)
	if err != nil {
		slog.Error("Trusted device token rotation failed", "user", userID, "error", err)
		return false, DeviceToken{}
	}
	err = m.deviceRepo.Updates(ctx, device.ID, map[string]interface{}{
		"secret_hash":  hash,
		"last_used_at": time.Now(),
	})
	if err != nil {
		slog.Error("Trusted device update failed", "user", userID, "error", err)
		return false, DeviceToken{}
	}
	return true, rotated
}

func (m *DeviceManager) List(ctx context.Context, userID uint) ([]*model.TrustedDevice, error) {
	return m.deviceRepo.ListActive(ctx, userID)
}

// Remove deletes the device if present; absent devices return false without
// error.
func (m *DeviceManager) Remove(ctx context.Context, userID uint, deviceID string) (bool, error) {
	return m.deviceRepo.Delete(ctx, userID, deviceID)
}

// CleanupExpired reclaims storage for lapsed devices. Expiry itself is
// enforced at validation time; this only exists for hygiene.
func (m *DeviceManager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.deviceRepo.DeleteExpired(ctx)
}

func NewDeviceManager(cfg Config, deviceRepo DeviceRepository) *DeviceManager {
	return &DeviceManager{
		cfg:        cfg.withDefaults(),
		deviceRepo: deviceRepo,
	}
}
