package twofactor

import (
	"context"
	"time"
)

// Limiter enforces the two throttles around verification: a sliding-window
// cap on code issuance and an escalating lockout on consecutive failures.
// Both read and write durable state, so they hold across restarts.
type Limiter struct {
	cfg          Config
	settingsRepo SettingsRepository
	codeRepo     CodeRepository
}

// CheckIssuance reports ErrRateLimited when the user has already been issued
// cfg.RateLimitMax codes inside the window. A negative max disables the
// throttle; zero never reaches here because withDefaults maps it to
// DefaultRateLimitMax.
func (l *Limiter) CheckIssuance(ctx context.Context, userID uint) error {
	if l.cfg.RateLimitMax <= 0 {
		return nil
	}
	count, err := l.codeRepo.CountCreatedSince(ctx, userID, time.Now().Add(-l.cfg.RateLimitWindow))
	if err != nil {
		return err
	}
	if count >= int64(l.cfg.RateLimitMax) {
		return ErrRateLimited
	}
	return nil
}

// CheckLocked returns a LockedError while a lockout is in force.
func (l *Limiter) CheckLocked(ctx context.Context, userID uint) error {
	settings, err := l.settingsRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if settings.LockedUntil != nil && settings.LockedUntil.After(time.Now()) {
		return &LockedError{Until: *settings.LockedUntil}
	}
	return nil
}

// lockoutDuration doubles with each lockout in the current run of failures,
// capped at cfg.LockoutMaxDuration.
func (l *Limiter) lockoutDuration(lockoutCount int) time.Duration {
	d := l.cfg.LockoutBaseDuration
	for i := 1; i < lockoutCount; i++ {
		d *= 2
		if d >= l.cfg.LockoutMaxDuration {
			return l.cfg.LockoutMaxDuration
		}
	}
	if d > l.cfg.LockoutMaxDuration {
		return l.cfg.LockoutMaxDuration
	}
	return d
}

// RecordFailure bumps the consecutive-failure counter and, at every
// cfg.LockoutThreshold-th failure, starts a lockout. The returned error is a
// LockedError when this failure triggered one, nil otherwise.
func (l *Limiter) RecordFailure(ctx context.Context, userID uint) error {
	settings, err := l.settingsRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	failed := settings.FailedAttempts + 1
	columns := map[string]interface{}{"failed_attempts": failed}
	var locked *LockedError
	if l.cfg.LockoutThreshold > 0 && failed%l.cfg.LockoutThreshold == 0 {
		lockoutCount := settings.LockoutCount + 1
		until := time.Now().Add(l.lockoutDuration(lockoutCount))
		columns["lockout_count"] = lockoutCount
		columns["locked_until"] = until
		locked = &LockedError{Until: until}
	}
	if err := l.settingsRepo.Updates(ctx, userID, columns); err != nil {
		return err
	}
	if locked != nil {
		return locked
	}
	return nil
}

// RecordSuccess clears the failure run and any pending lockout.
func (l *Limiter) RecordSuccess(ctx context.Context, userID uint) error {
	return l.settingsRepo.Updates(ctx, userID, map[string]interface{}{
		"failed_attempts": 0,
		"lockout_count":   0,
		"locked_until":    nil,
	})
}

func NewLimiter(cfg Config, settingsRepo SettingsRepository, codeRepo CodeRepository) *Limiter {
	return &Limiter{
		cfg:          cfg.withDefaults(),
		settingsRepo: settingsRepo,
		codeRepo:     codeRepo,
	}
}
