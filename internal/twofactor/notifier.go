package twofactor

import (
	"context"

	"github.com/kinshiphq/kinship/model"
)

// Notifier delivers user-facing security messages. Implementations must not
// block the caller; dropped notifications are acceptable, blocked logins are
// not.
type Notifier interface {
	// NotifyOTP delivers a one-time code over the given method. phone is
	// only meaningful for SMS delivery.
	NotifyOTP(ctx context.Context, user *model.User, method Method, phone string, code string)
	NotifyDeviceAdded(ctx context.Context, user *model.User, deviceName string)
	NotifyRecoveryCodeUsed(ctx context.Context, user *model.User, remaining int64)
	NotifyTwoFactorEnabled(ctx context.Context, user *model.User)
	NotifyTwoFactorDisabled(ctx context.Context, user *model.User)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyOTP(context.Context, *model.User, Method, string, string) {}
func (NopNotifier) NotifyDeviceAdded(context.Context, *model.User, string)         {}
func (NopNotifier) NotifyRecoveryCodeUsed(context.Context, *model.User, int64)     {}
func (NopNotifier) NotifyTwoFactorEnabled(context.Context, *model.User)            {}
func (NopNotifier) NotifyTwoFactorDisabled(context.Context, *model.User)           {}
