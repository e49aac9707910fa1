package twofactor

import (
	"errors"
	"time"
)

var (
	ErrNotConfigured       = errors.New("two-factor authentication is not configured")
	ErrAlreadyEnabled      = errors.New("two-factor authentication is already enabled")
	ErrMethodNotConfigured = errors.New("method is not configured")
	ErrUnknownMethod       = errors.New("unknown two-factor method")
	ErrPhoneNumberRequired = errors.New("phone number is required for sms")
	ErrLastMethod          = errors.New("cannot remove the last verified method")
	ErrRateLimited         = errors.New("code request rate limited")
	ErrInvalidCode         = errors.New("invalid verification code")
	ErrPartialTokenInvalid = errors.New("invalid or expired partial token")
	ErrSetupNotPending     = errors.New("no setup verification pending")
)

// ErrorCode is the stable machine-readable code surfaced to API clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrAlreadyEnabled):
		return "already_enabled"
	case errors.Is(err, ErrMethodNotConfigured):
		return "method_not_configured"
	case errors.Is(err, ErrUnknownMethod), errors.Is(err, ErrPhoneNumberRequired),
		errors.Is(err, ErrLastMethod), errors.Is(err, ErrSetupNotPending):
		return "invalid_request"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_verification_code"
	case errors.Is(err, ErrPartialTokenInvalid):
		return "invalid_partial_token"
	default:
		var lockedErr *LockedError
		if errors.As(err, &lockedErr) {
			return "account_locked"
		}
		return "internal_error"
	}
}

// LockedError reports an account lockout. Until is intentionally coarse;
// callers must not surface a precise retry time.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account is temporarily locked"
}

func NewLockedError(until time.Time) *LockedError {
	return &LockedError{Until: until}
}
