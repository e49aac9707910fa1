package twofactor

import "time"

// Config carries every 2FA tunable. It is injected into the service
// constructor; nothing in this package reads ambient global state.
type Config struct {
	MasterKey           string
	CodeExpiry          time.Duration // OTP validity window
	CodeMaxAttempts     int           // verification attempts per code
	RateLimitWindow     time.Duration // sliding window for code issuance
	RateLimitMax        int           // max codes issued per window; 0 takes the default, negative disables the throttle
	TrustedDeviceMax    int           // per-user device cap
	TrustedDeviceTTL    time.Duration // device trust lifetime
	PartialTokenTTL     time.Duration
	LockoutThreshold    int           // consecutive failures per lockout step
	LockoutBaseDuration time.Duration // first lockout duration
	LockoutMaxDuration  time.Duration // lockout duration cap
}

const (
	DefaultCodeExpiry          = 10 * time.Minute
	DefaultCodeMaxAttempts     = 5
	DefaultRateLimitWindow     = 15 * time.Minute
	DefaultRateLimitMax        = 3
	DefaultTrustedDeviceMax    = 5
	DefaultTrustedDeviceTTL    = 30 * 24 * time.Hour
	DefaultPartialTokenTTL     = 10 * time.Minute
	DefaultLockoutThreshold    = 5
	DefaultLockoutBaseDuration = 5 * time.Minute
	DefaultLockoutMaxDuration  = 1 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.CodeExpiry == 0 {
		c.CodeExpiry = DefaultCodeExpiry
	}
	if c.CodeMaxAttempts == 0 {
		c.CodeMaxAttempts = DefaultCodeMaxAttempts
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = DefaultRateLimitMax
	}
	if c.TrustedDeviceMax == 0 {
		c.TrustedDeviceMax = DefaultTrustedDeviceMax
	}
	if c.TrustedDeviceTTL == 0 {
		c.TrustedDeviceTTL = DefaultTrustedDeviceTTL
	}
	if c.PartialTokenTTL == 0 {
		c.PartialTokenTTL = DefaultPartialTokenTTL
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = DefaultLockoutThreshold
	}
	if c.LockoutBaseDuration == 0 {
		c.LockoutBaseDuration = DefaultLockoutBaseDuration
	}
	if c.LockoutMaxDuration == 0 {
		c.LockoutMaxDuration = DefaultLockoutMaxDuration
	}
	return c
}
