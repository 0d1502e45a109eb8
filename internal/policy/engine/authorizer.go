// Package engine makes access decisions for payment operations.
package engine

import (
	"context"
	"errors"
)

// Action names an operation on a payment.
type Action string

const (
	ActionRead      Action = "read"
	ActionAuthorize Action = "authorize"
	ActionCapture   Action = "capture"
	ActionRefund    Action = "refund"
	ActionFail      Action = "fail"
)

// RoleAdmin is the requester role allowed to refund.
const RoleAdmin = "admin"

// ErrNoDecision is returned when a policy evaluates without producing a boolean decision.
var ErrNoDecision = errors.New("policy produced no decision")

// Request is the input of one access decision.
type Request struct {
	Action      Action
	RequesterID string
	// RequesterRole is the requester's account role; empty when unknown.
	RequesterRole string
	OwnerID       string
	PaymentID   string
}

// Authorizer decides whether a requester may perform an action on a payment.
type Authorizer interface {
	Allow(ctx context.Context, req Request) (bool, error)
}

// OwnerOnly allows a request only when the requester owns the payment. Refunds also need RoleAdmin.
type OwnerOnly struct{}

// Allow implements Authorizer.
func (OwnerOnly) Allow(_ context.Context, req Request) (bool, error) {
	owner := req.RequesterID != "" && req.RequesterID == req.OwnerID
	if req.Action == ActionRefund {
		return owner && req.RequesterRole == RoleAdmin, nil
	}
	return owner, nil
}
