package model

import "time"

// AuditEvent is an append-only record of a security-relevant decision.
// Rows are never mutated or deleted by application logic.
type AuditEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint      `gorm:"index;not null"`
	Action    string    `gorm:"size:64;not null;index"` // 2fa_enabled, trusted_device_added...
	Method    string    `gorm:"size:16;index"`          // totp, email, sms (optional)
	Reason    string    `gorm:"size:512"`               // failure reason or context
	IP        string    `gorm:"size:45;not null"`       // IPv4/IPv6
	UserAgent string    `gorm:"size:512;not null"`
	Success   bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (AuditEvent) TableName() string {
	return "audit"
}
