package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the services.
const (
	TypeLoginSucceeded   = "auth.login_succeeded"
	TypeLoginFailed      = "auth.login_failed"
	TypeLogout           = "auth.logout"
	TypeLogoutAll        = "auth.logout_all"
	TypeRefreshReuse     = "session.reuse_detected"
	TypePaymentCreated   = "payment.created"
	TypePaymentPrefix    = "payment."
	SourceAuthService    = "auth"
	SourcePaymentService = "payment"
)

// Event is a domain event published to the event stream. Metadata is a JSON object.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	PaymentID string          `json:"payment_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent returns an event of the given type stamped with a fresh id and the current time.
func NewEvent(eventType, source string) *Event {
	return &Event{ID: uuid.New().String(), Type: eventType, Source: source, CreatedAt: time.Now().UTC()}
}

// WithMetadata marshals v into e.Metadata. Values that fail to marshal leave Metadata unset.
func (e *Event) WithMetadata(v any) *Event {
	if b, err := json.Marshal(v); err == nil {
		e.Metadata = b
	}
	return e
}

// Key is the partitioning key: events of one payment, or else of one user, stay ordered.
func (e *Event) Key() string {
	if e.PaymentID != "" {
		return e.PaymentID
	}
	return e.UserID
}
