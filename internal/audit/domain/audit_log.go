package domain

import "time"

// Security-relevant actions recorded outside the per-RPC audit interceptor.
const (
	ActionLoginFailure   = "login_failure"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionReuseDetected  = "refresh_reuse_detected"
	ActionRegister       = "register"
	ActionPaymentCreated = "payment_created"
	// ActionPaymentTransition is suffixed with the new status, e.g. payment_authorized.
	ActionPaymentTransition = "payment_"
)

// Resources named in audit entries.
const (
	ResourceSession = "session"
	ResourceUser    = "user"
	ResourcePayment = "payment"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
