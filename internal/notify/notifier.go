package notify

import (
	"context"
	"fmt"

	"github.com/kinshiphq/kinship/internal/mail"
	"github.com/kinshiphq/kinship/internal/sms"
	"github.com/kinshiphq/kinship/internal/twofactor"
	"github.com/kinshiphq/kinship/model"
)

// Notifier fans security messages out over mail and SMS through the
// dispatcher, keeping delivery latency off the login path.
type Notifier struct {
	dispatcher *Dispatcher
	mailer     mail.MailSender
	texter     sms.Sender
	codeExpiry int // minutes, shown in the OTP message
}

func (n *Notifier) NotifyOTP(ctx context.Context, user *model.User, method twofactor.Method, phone string, code string) {
	switch method {
	case twofactor.MethodSMS:
		n.dispatcher.Enqueue("otp_sms", func(ctx context.Context) error {
			text := fmt.Sprintf("%s is your kinship verification code. It expires in %d minutes.", code, n.codeExpiry)
			return n.texter.Send(ctx, phone, text)
		})
	default:
		email := user.Email
		n.dispatcher.Enqueue("otp_mail", func(ctx context.Context) error {
			return mail.SendOTP(n.mailer, email, code, n.codeExpiry)
		})
	}
}

func (n *Notifier) NotifyDeviceAdded(ctx context.Context, user *model.User, deviceName string) {
	email := user.Email
	n.dispatcher.Enqueue("device_added_mail", func(ctx context.Context) error {
		return mail.SendDeviceAdded(n.mailer, email, deviceName)
	})
}

func (n *Notifier) NotifyRecoveryCodeUsed(ctx context.Context, user *model.User, remaining int64) {
	email := user.Email
	n.dispatcher.Enqueue("recovery_used_mail", func(ctx context.Context) error {
		return mail.SendRecoveryCodeUsed(n.mailer, email)
	})
}

func (n *Notifier) NotifyTwoFactorEnabled(ctx context.Context, user *model.User) {
	email := user.Email
	n.dispatcher.Enqueue("2fa_enabled_mail", func(ctx context.Context) error {
		return mail.SendTwoFactorEnabled(n.mailer, email)
	})
}

func (n *Notifier) NotifyTwoFactorDisabled(ctx context.Context, user *model.User) {
	email := user.Email
	n.dispatcher.Enqueue("2fa_disabled_mail", func(ctx context.Context) error {
		return mail.SendTwoFactorDisabled(n.mailer, email)
	})
}

func NewNotifier(dispatcher *Dispatcher, mailer mail.MailSender, texter sms.Sender, codeExpiryMinutes int) *Notifier {
	if texter == nil {
		texter = sms.NullSender{}
	}
	return &Notifier{
		dispatcher: dispatcher,
		mailer:     mailer,
		texter:     texter,
		codeExpiry: codeExpiryMinutes,
	}
}
