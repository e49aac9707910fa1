package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kinshiphq/kinship/internal/audit"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a second connection would open a second empty in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.Models...))
	return db
}

func setupTestStorage(t *testing.T) store.Storage {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedisStorage(client)
}

func testConfig() Config {
	return Config{
		MasterKey:           "0123456789abcdef0123456789abcdef",
		CodeExpiry:          10 * time.Minute,
		CodeMaxAttempts:     3,
		RateLimitWindow:     15 * time.Minute,
		RateLimitMax:        3,
		TrustedDeviceMax:    2,
		TrustedDeviceTTL:    30 * 24 * time.Hour,
		PartialTokenTTL:     10 * time.Minute,
		LockoutThreshold:    3,
		LockoutBaseDuration: 5 * time.Minute,
		LockoutMaxDuration:  20 * time.Minute,
	}
}

// captureNotifier records every notification so tests can read the
// delivered code plaintexts.
type captureNotifier struct {
	codes         []string
	lastMethod    Method
	lastPhone     string
	deviceNames   []string
	recoveryLeft  []int64
	enabledCount  int
	disabledCount int
}

func (n *captureNotifier) NotifyOTP(ctx context.Context, user *model.User, method Method, phoneNumber, code string) {
	n.codes = append(n.codes, code)
	n.lastMethod = method
	n.lastPhone = phoneNumber
}

func (n *captureNotifier) NotifyDeviceAdded(ctx context.Context, user *model.User, deviceName string) {
	n.deviceNames = append(n.deviceNames, deviceName)
}

func (n *captureNotifier) NotifyRecoveryCodeUsed(ctx context.Context, user *model.User, remaining int64) {
	n.recoveryLeft = append(n.recoveryLeft, remaining)
}

func (n *captureNotifier) NotifyTwoFactorEnabled(ctx context.Context, user *model.User) {
	n.enabledCount++
}

func (n *captureNotifier) NotifyTwoFactorDisabled(ctx context.Context, user *model.User) {
	n.disabledCount++
}

func (n *captureNotifier) lastCode() string {
	if len(n.codes) == 0 {
		return ""
	}
	return n.codes[len(n.codes)-1]
}

func newTestService(t *testing.T, cfg Config) (*Service, *captureNotifier, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	storage := setupTestStorage(t)
	notifier := &captureNotifier{}
	auditor := audit.NewRecorder(audit.NewAuditEventRepository(db))
	svc := NewService(cfg, db, storage, auditor, notifier)
	return svc, notifier, db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username: username,
		FullName: "Test User",
		Email:    username + "@example.com",
		Password: "x",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func countAuditEvents(t *testing.T, db *gorm.DB, userID uint, action string) int64 {
	t.Helper()
	var count int64
	err := db.Model(&model.AuditEvent{}).
		Where("user_id = ? AND action = ?", userID, action).
		Count(&count).Error
	require.NoError(t, err)
	return count
}
