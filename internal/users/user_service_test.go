package users

import (
	"context"
	"testing"

	"github.com/kinshiphq/kinship/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.Models...))
	return NewUserService(NewUserRepository(db), NewUserOAuthRepository(db)), db
}

func registerTestUser(t *testing.T, svc *UserService, username string) *model.User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), CreateUserOptions{
		Username: username,
		FullName: "Test User",
		Email:    username + "@example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)
	return user
}

func TestCreateUser(t *testing.T) {
	svc, _ := newTestUserService(t)
	ctx := context.Background()

	user := registerTestUser(t, svc, "alice")
	assert.NotEqual(t, "hunter2hunter2", user.Password)

	_, err := svc.CreateUser(ctx, CreateUserOptions{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "p4sswordp4ssword",
	})
	assert.ErrorIs(t, err, ErrEmailRegistered)

	_, err = svc.CreateUser(ctx, CreateUserOptions{
		Username: "alice",
		Email:    "alice2@example.com",
		Password: "p4sswordp4ssword",
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.CreateUser(ctx, CreateUserOptions{
		Username: "bob",
		Email:    "not-an-email",
		Password: "p4sswordp4ssword",
	})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, db := newTestUserService(t)
	ctx := context.Background()
	registerTestUser(t, svc, "alice")

	// by username and by email
	user, err := svc.Authenticate(ctx, "alice", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	_, err = svc.Authenticate(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, db.Model(&model.User{}).
		Where("username = ?", "alice").
		Update("disabled", true).Error)
	_, err = svc.Authenticate(ctx, "alice", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestUserService(t)
	ctx := context.Background()
	user := registerTestUser(t, svc, "alice")

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "n3w-p4ssword-here"))
	_, err := svc.Authenticate(ctx, "alice", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "alice", "n3w-p4ssword-here")
	assert.NoError(t, err)
}

func TestGetOrCreateOAuthUser(t *testing.T) {
	svc, _ := newTestUserService(t)
	ctx := context.Background()

	// unknown subject with unknown email creates an account
	user, err := svc.GetOrCreateOAuthUser(ctx, "google", "sub-123", "alice@example.com", "Alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	// a second login with the same subject resolves to the same account
	again, err := svc.GetOrCreateOAuthUser(ctx, "google", "sub-123", "alice@example.com", "Alice", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	// a different provider with a matching email links to the account
	linked, err := svc.GetOrCreateOAuthUser(ctx, "other", "sub-999", "alice@example.com", "Alice", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, linked.ID)
}
