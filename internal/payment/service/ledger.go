// Package service implements the payment ledger: creation with idempotent references, owner-scoped reads,
// and lifecycle transitions persisted with optimistic concurrency.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"securepay/backend/internal/audit"
	auditdomain "securepay/backend/internal/audit/domain"
	"securepay/backend/internal/payment/domain"
	"securepay/backend/internal/payment/repository"
	"securepay/backend/internal/policy/engine"
	"securepay/backend/internal/storage"
	"securepay/backend/internal/telemetry"
	eventdomain "securepay/backend/internal/telemetry/domain"
	userdomain "securepay/backend/internal/user/domain"
)

// MaxAttempts bounds the read-transition-write cycle of Transition.
const MaxAttempts = 3

var (
	// ErrPaymentNotFound is returned when no payment has the requested id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrAccessDenied is returned when the requester may not act on the payment.
	ErrAccessDenied = errors.New("access denied")
	// ErrDuplicateReference is returned when a payment with the same reference id already exists.
	ErrDuplicateReference = errors.New("duplicate reference id")
	// ErrConcurrentModification is returned when conditional writes keep losing to concurrent writers.
	// Nothing was written; the caller may retry the whole operation.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInvalidOwner is returned by Create when no owner is given.
	ErrInvalidOwner = errors.New("owner id is required")
)

// CreateInput carries the fields of a new payment.
type CreateInput struct {
	OwnerID     string
	Amount      decimal.Decimal
	Currency    string
	ReferenceID string
}

// UserLookup resolves requesters to accounts so the access policy can see their role.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Ledger is the payment ledger.
type Ledger struct {
	repo    repository.Repository
	users   UserLookup
	authz   engine.Authorizer
	events  telemetry.EventEmitter
	audit   audit.AuditLogger
	now     func() time.Time
	log     *zap.Logger
	metrics ledgerMetrics
}

type ledgerMetrics struct {
	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger; the default discards.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithAuthorizer replaces the default owner-only access check.
func WithAuthorizer(a engine.Authorizer) Option {
	return func(l *Ledger) {
		if a != nil {
			l.authz = a
		}
	}
}

// WithUsers supplies requester roles to the authorizer. Without it every requester has no role,
// so refunds are denied by the default policies.
func WithUsers(users UserLookup) Option {
	return func(l *Ledger) { l.users = users }
}

// WithEventEmitter publishes a domain event after every create and transition.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(l *Ledger) { l.events = e }
}

// WithAuditLogger records an audit entry after every create and transition.
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(l *Ledger) { l.audit = a }
}

// NewLedger returns a Ledger persisting through repo.
func NewLedger(repo repository.Repository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, authz: engine.OwnerOnly{}, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	meter := otel.Meter("securepay/payment")
	l.metrics.transitions, _ = meter.Int64Counter("payment.transitions", metric.WithDescription("Applied payment transitions"))
	l.metrics.conflicts, _ = meter.Int64Counter("payment.cas_conflicts", metric.WithDescription("Lost conditional writes"))
	return l
}

// Create records a new payment in status CREATED.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*domain.Payment, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return nil, ErrInvalidOwner
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	currency, err := domain.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	ref, err := domain.NormalizeReference(in.ReferenceID)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	p := &domain.Payment{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		Amount:      in.Amount,
		Currency:    currency,
		ReferenceID: ref,
		Status:      domain.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := l.repo.Create(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}
	l.record(ctx, p, eventdomain.TypePaymentCreated, auditdomain.ActionPaymentCreated)
	return p, nil
}

// Get returns the payment if requesterID may read it.
func (l *Ledger) Get(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error) {
	p, err := l.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	role, err := l.requesterRole(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, engine.ActionRead, p, requesterID, role); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the requester's own payments, newest first.
func (l *Ledger) List(ctx context.Context, requesterID string) ([]*domain.Payment, error) {
	if requesterID == "" {
		return nil, ErrAccessDenied
	}
	return l.repo.ListByOwner(ctx, requesterID)
}

// Authorize moves a CREATED payment to AUTHORIZED.
func (l *Ledger) Authorize(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error) {
	return l.Transition(ctx, paymentID, requesterID, domain.TransitionAuthorize)
}

// Capture moves an AUTHORIZED payment to CAPTURED.
func (l *Ledger) Capture(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error) {
	return l.Transition(ctx, paymentID, requesterID, domain.TransitionCapture)
}

// Refund moves a CAPTURED payment to REFUNDED.
func (l *Ledger) Refund(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error) {
	return l.Transition(ctx, paymentID, requesterID, domain.TransitionRefund)
}

// Fail moves a CREATED or AUTHORIZED payment to FAILED.
func (l *Ledger) Fail(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error) {
	return l.Transition(ctx, paymentID, requesterID, domain.TransitionFail)
}

// Transition applies t to the payment. Each attempt re-reads the row, asks the state machine for the next
// status, and writes only if the version read is still current. A writer that loses to a concurrent one
// re-reads and usually finds the transition no longer legal, which it reports as an InvalidTransitionError.
func (l *Ledger) Transition(ctx context.Context, paymentID, requesterID string, t domain.Transition) (*domain.Payment, error) {
	role, err := l.requesterRole(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		cur, err := l.load(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if err := l.authorize(ctx, engine.Action(t), cur, requesterID, role); err != nil {
			return nil, err
		}
		nextStatus, err := domain.Next(cur.Status, t)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		next.Status = nextStatus
		next.UpdatedAt = l.now().UTC()
		next.Version = cur.Version + 1

		err = l.repo.Update(ctx, next, cur.Version)
		if storage.IsTransient(err) {
			l.metrics.conflicts.Add(ctx, 1)
			l.log.Debug("payment transition lost conditional write",
				zap.String("payment_id", paymentID), zap.String("transition", string(t)), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("transition payment: %w", err)
		}
		l.metrics.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(nextStatus))))
		l.record(ctx, next,
			eventdomain.TypePaymentPrefix+strings.ToLower(string(nextStatus)),
			auditdomain.ActionPaymentTransition+strings.ToLower(string(nextStatus)))
		return next, nil
	}
	return nil, ErrConcurrentModification
}

func (l *Ledger) load(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrPaymentNotFound
	}
	p, err := l.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

// requesterRole returns the role of requesterID, or "" when no lookup is configured or the account is gone.
// A lookup failure is a storage error, not a denial.
func (l *Ledger) requesterRole(ctx context.Context, requesterID string) (string, error) {
	if l.users == nil || requesterID == "" {
		return "", nil
	}
	u, err := l.users.GetByID(ctx, requesterID)
	if err != nil {
		return "", fmt.Errorf("resolve requester: %w", err)
	}
	if u == nil {
		return "", nil
	}
	return string(u.Role), nil
}

// authorize asks the policy engine; an evaluation failure denies.
func (l *Ledger) authorize(ctx context.Context, action engine.Action, p *domain.Payment, requesterID, role string) error {
	allowed, err := l.authz.Allow(ctx, engine.Request{
		Action:        action,
		RequesterID:   requesterID,
		RequesterRole: role,
		OwnerID:       p.OwnerID,
		PaymentID:     p.ID,
	})
	if err != nil {
		l.log.Error("payment policy evaluation failed", zap.String("payment_id", p.ID), zap.Error(err))
		return ErrAccessDenied
	}
	if !allowed {
		return ErrAccessDenied
	}
	return nil
}

func (l *Ledger) record(ctx context.Context, p *domain.Payment, eventType, action string) {
	meta := audit.Metadata(struct {
		PaymentID string        `json:"payment_id"`
		Status    domain.Status `json:"status"`
		Version   int64         `json:"version"`
	}{p.ID, p.Status, p.Version})
	if l.audit != nil {
		l.audit.LogEvent(ctx, p.OwnerID, action, auditdomain.ResourcePayment, meta)
	}
	if l.events != nil {
		ev := eventdomain.NewEvent(eventType, eventdomain.SourcePaymentService)
		ev.UserID = p.OwnerID
		ev.PaymentID = p.ID
		ev.WithMetadata(map[string]any{
			"status":       p.Status,
			"amount":       p.Amount.StringFixed(domain.MaxAmountScale),
			"currency":     p.Currency,
			"reference_id": p.ReferenceID,
			"version":      p.Version,
		})
		telemetry.EmitAsync(l.events, ev)
	}
}
