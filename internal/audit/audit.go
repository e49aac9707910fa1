package audit

import (
	"context"
	"log/slog"

	"github.com/kinshiphq/kinship/model"
)

const (
	ActionLoginSuccess         = "login_success"
	ActionLoginFailure         = "login_failure"
	ActionTwoFACodeSent        = "2fa_code_sent"
	ActionTwoFALoginSuccess    = "2fa_login_success"
	ActionTwoFALoginFailed     = "2fa_login_failed"
	ActionTwoFAEnabled         = "2fa_enabled"
	ActionTwoFADisabled        = "2fa_disabled"
	ActionTwoFADisableFailed   = "2fa_disable_failed"
	ActionTwoFAMethodRemoved   = "2fa_method_removed"
	ActionTwoFASetupFailed     = "2fa_setup_failed"
	ActionRecoveryCodesCreated = "recovery_codes_generated"
	ActionRecoveryCodeUsed     = "recovery_code_used"
	ActionDeviceAdded          = "trusted_device_added"
	ActionDeviceRefreshed      = "trusted_device_refreshed"
	ActionDeviceRemoved        = "trusted_device_removed"
	ActionAccountLocked        = "account_locked"
)

// Event captures one security-relevant decision with enough context to
// reconstruct an incident timeline.
type Event struct {
	UserID    uint
	Action    string
	Method    string
	IP        string
	UserAgent string
	Success   bool
	Reason    string
}

// Recorder appends security events to an append-only sink.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type recorder struct {
	repo AuditEventRepository
}

// Record appends the event. Audit rows are never mutated afterwards. A
// failed append is logged but not surfaced; the security decision already
// happened and must not be rolled back by a logging failure.
func (r *recorder) Record(ctx context.Context, event Event) {
	err := r.repo.RecordEvent(ctx, &model.AuditEvent{
		UserID:    event.UserID,
		Action:    event.Action,
		Method:    event.Method,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Success:   event.Success,
		Reason:    event.Reason,
	})
	if err != nil {
		slog.Error("Could not record audit event", "action", event.Action, "user", event.UserID, "error", err)
	}
}

func NewRecorder(repo AuditEventRepository) Recorder {
	return &recorder{repo: repo}
}
