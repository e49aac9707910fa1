package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *OTPEngine) {
	t.Helper()
	db := setupTestDB(t)
	settingsRepo := NewSettingsRepository(db)
	codeRepo := NewCodeRepository(db)
	return NewLimiter(cfg, settingsRepo, codeRepo), NewOTPEngine(cfg, codeRepo)
}

func TestLimiterIssuanceWindow(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	limiter, otp := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, limiter.CheckIssuance(ctx, 1))
		_, _, err := otp.Issue(ctx, 1, MethodEmail, PurposeLogin)
		require.NoError(t, err)
	}
	assert.ErrorIs(t, limiter.CheckIssuance(ctx, 1), ErrRateLimited)

	// another user is unaffected
	assert.NoError(t, limiter.CheckIssuance(ctx, 2))
}

func TestLimiterIssuanceDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = -1
	limiter, otp := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := otp.Issue(ctx, 1, MethodEmail, PurposeLogin)
		require.NoError(t, err)
	}
	assert.NoError(t, limiter.CheckIssuance(ctx, 1))
}

func TestLimiterLockoutAfterThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.LockoutThreshold = 3
	limiter, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	require.NoError(t, limiter.RecordFailure(ctx, 1))
	require.NoError(t, limiter.RecordFailure(ctx, 1))
	require.NoError(t, limiter.CheckLocked(ctx, 1))

	err := limiter.RecordFailure(ctx, 1)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.WithinDuration(t, time.Now().Add(cfg.LockoutBaseDuration), locked.Until, 5*time.Second)

	err = limiter.CheckLocked(ctx, 1)
	assert.ErrorAs(t, err, &locked)
}

func TestLimiterLockoutEscalates(t *testing.T) {
	cfg := testConfig()
	cfg.LockoutThreshold = 2
	cfg.LockoutBaseDuration = 4 * time.Minute
	cfg.LockoutMaxDuration = 10 * time.Minute
	limiter, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	lockout := func() *LockedError {
		t.Helper()
		require.NoError(t, limiter.RecordFailure(ctx, 1))
		err := limiter.RecordFailure(ctx, 1)
		var locked *LockedError
		require.ErrorAs(t, err, &locked)
		return locked
	}

	first := lockout()
	assert.WithinDuration(t, time.Now().Add(4*time.Minute), first.Until, 5*time.Second)

	// second lockout in the same failure run doubles the duration
	second := lockout()
	assert.WithinDuration(t, time.Now().Add(8*time.Minute), second.Until, 5*time.Second)

	// the third would double to 16m but is capped
	third := lockout()
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), third.Until, 5*time.Second)
}

func TestLimiterSuccessResets(t *testing.T) {
	cfg := testConfig()
	cfg.LockoutThreshold = 2
	limiter, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	require.NoError(t, limiter.RecordFailure(ctx, 1))
	err := limiter.RecordFailure(ctx, 1)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)

	require.NoError(t, limiter.RecordSuccess(ctx, 1))
	assert.NoError(t, limiter.CheckLocked(ctx, 1))

	// the escalation counter reset too: the next lockout is back to base
	require.NoError(t, limiter.RecordFailure(ctx, 1))
	err = limiter.RecordFailure(ctx, 1)
	require.ErrorAs(t, err, &locked)
	assert.WithinDuration(t, time.Now().Add(cfg.LockoutBaseDuration), locked.Until, 5*time.Second)
}
