package circles

import (
	"context"
	"testing"
	"time"

	"github.com/kinshiphq/kinship/internal/mail"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type captureMailer struct {
	messages []*mail.Message
}

func (m *captureMailer) Send(msg *mail.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.Models...))
	return db
}

func newTestCircleService(t *testing.T) (*CircleService, *captureMailer, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	mailer := &captureMailer{}
	userSvc := users.NewUserService(users.NewUserRepository(db), users.NewUserOAuthRepository(db))
	svc := NewCircleService("https://kinship.test", NewCircleRepository(db), userSvc, mailer)
	return svc, mailer, db
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

func TestCreateCircle(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, circle.OwnerID)

	member, err := svc.Membership(ctx, circle.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CircleRoleOwner, member.Role)

	circles, err := svc.ListCircles(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, circles, 1)
}

func TestMembershipGatesListing(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	outsider := createTestUser(t, db, "bob")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)

	_, err = svc.Membership(ctx, circle.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = svc.ListMembers(ctx, circle.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrNotMember)

	members, err := svc.ListMembers(ctx, circle.ID, owner.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestInvite(t *testing.T) {
	svc, mailer, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)

	_, err = svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", "chief")
	assert.ErrorIs(t, err, ErrUnknownRole)
	_, err = svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", model.CircleRoleOwner)
	assert.ErrorIs(t, err, ErrUnknownRole)
	_, err = svc.Invite(ctx, circle.ID, member.ID, "bob@example.com", model.CircleRoleAdult)
	assert.ErrorIs(t, err, ErrNotOwner)

	invite, err := svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", model.CircleRoleAdult)
	require.NoError(t, err)
	assert.NotEmpty(t, invite.Token)
	require.Len(t, mailer.messages, 1)
	assert.Contains(t, mailer.messages[0].To, "bob@example.com")
	assert.Contains(t, mailer.messages[0].Body, invite.Token)
}

func TestAcceptInvite(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	invitee := createTestUser(t, db, "bob")
	other := createTestUser(t, db, "carol")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", model.CircleRoleAdult)
	require.NoError(t, err)

	// the invite is bound to the mailed address
	_, err = svc.AcceptInvite(ctx, other.ID, invite.Token)
	assert.ErrorIs(t, err, ErrInviteEmailOther)

	joined, err := svc.AcceptInvite(ctx, invitee.ID, invite.Token)
	require.NoError(t, err)
	assert.Equal(t, circle.ID, joined.ID)

	member, err := svc.Membership(ctx, circle.ID, invitee.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CircleRoleAdult, member.Role)

	// single use
	_, err = svc.AcceptInvite(ctx, invitee.ID, invite.Token)
	assert.ErrorIs(t, err, ErrInviteInvalid)
	_, err = svc.AcceptInvite(ctx, invitee.ID, "no-such-token")
	assert.ErrorIs(t, err, ErrInviteInvalid)
}

func TestAcceptExpiredInvite(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	invitee := createTestUser(t, db, "bob")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", model.CircleRoleAdult)
	require.NoError(t, err)

	require.NoError(t, db.Model(&model.CircleInvite{}).
		Where("id = ?", invite.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	_, err = svc.AcceptInvite(ctx, invitee.ID, invite.Token)
	assert.ErrorIs(t, err, ErrInviteInvalid)

	removed, err := svc.CleanupExpiredInvites(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestInviteExistingMember(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	invitee := createTestUser(t, db, "bob")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", model.CircleRoleAdult)
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, invitee.ID, invite.Token)
	require.NoError(t, err)

	_, err = svc.Invite(ctx, circle.ID, owner.ID, "bob@example.com", model.CircleRoleAdult)
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func joinCircle(t *testing.T, db *gorm.DB, circleID uint, user *model.User, role string) {
	t.Helper()
	require.NoError(t, db.Create(&model.CircleMember{
		CircleID: circleID,
		UserID:   user.ID,
		Role:     role,
	}).Error)
}

func TestRemoveMember(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	adult := createTestUser(t, db, "bob")
	other := createTestUser(t, db, "carol")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)
	joinCircle(t, db, circle.ID, adult, model.CircleRoleAdult)
	joinCircle(t, db, circle.ID, other, model.CircleRoleAdult)

	// the owner cannot be evicted, not even by themselves
	assert.ErrorIs(t, svc.RemoveMember(ctx, circle.ID, owner.ID, owner.ID), ErrOwnerLeaving)
	// a member cannot remove someone else
	assert.ErrorIs(t, svc.RemoveMember(ctx, circle.ID, adult.ID, other.ID), ErrNotOwner)

	// a member may leave
	require.NoError(t, svc.RemoveMember(ctx, circle.ID, adult.ID, adult.ID))
	// the owner may remove anyone
	require.NoError(t, svc.RemoveMember(ctx, circle.ID, owner.ID, other.ID))

	members, err := svc.ListMembers(ctx, circle.ID, owner.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestUpgradeChildProfile(t *testing.T) {
	svc, _, db := newTestCircleService(t)
	owner := createTestUser(t, db, "alice")
	child := createTestUser(t, db, "bob")
	adult := createTestUser(t, db, "carol")
	ctx := context.Background()

	circle, err := svc.CreateCircle(ctx, owner.ID, "Smith family")
	require.NoError(t, err)
	joinCircle(t, db, circle.ID, child, model.CircleRoleChild)
	joinCircle(t, db, circle.ID, adult, model.CircleRoleAdult)

	assert.ErrorIs(t, svc.UpgradeChildProfile(ctx, circle.ID, adult.ID, child.ID), ErrNotOwner)
	assert.ErrorIs(t, svc.UpgradeChildProfile(ctx, circle.ID, owner.ID, adult.ID), ErrNotChildProfile)

	require.NoError(t, svc.UpgradeChildProfile(ctx, circle.ID, owner.ID, child.ID))
	member, err := svc.Membership(ctx, circle.ID, child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CircleRoleAdult, member.Role)
}
