package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// DecisionQuery is the rule every payment policy must define.
const DecisionQuery = "data.securepay.payments.allow"

// DefaultRegoPolicy grants access to the payment owner only; refunds also need the admin role.
const DefaultRegoPolicy = `package securepay.payments

default allow := false

owner if {
	input.requester_id != ""
	input.requester_id == input.owner_id
}

allow if {
	input.action != "refund"
	owner
}

allow if {
	input.action == "refund"
	owner
	input.requester_role == "admin"
}
`

// OPAAuthorizer evaluates a Rego policy compiled once at construction.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
}

// NewOPAAuthorizer compiles policy (DefaultRegoPolicy when empty) and prepares DecisionQuery.
func NewOPAAuthorizer(ctx context.Context, policy string) (*OPAAuthorizer, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"payments.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile payment policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(DecisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare payment policy: %w", err)
	}
	return &OPAAuthorizer{query: pq}, nil
}

// LoadOPAAuthorizer reads a Rego module from path; an empty path selects DefaultRegoPolicy.
func LoadOPAAuthorizer(ctx context.Context, path string) (*OPAAuthorizer, error) {
	if path == "" {
		return NewOPAAuthorizer(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payment policy: %w", err)
	}
	return NewOPAAuthorizer(ctx, string(b))
}

// Allow implements Authorizer.
func (a *OPAAuthorizer) Allow(ctx context.Context, req Request) (bool, error) {
	input := map[string]interface{}{
		"action":         string(req.Action),
		"requester_id":   req.RequesterID,
		"requester_role": req.RequesterRole,
		"owner_id":       req.OwnerID,
		"payment_id":     req.PaymentID,
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval payment policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, ErrNoDecision
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, ErrNoDecision
	}
	return allowed, nil
}

// HealthCheck evaluates the prepared policy against a minimal input.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	_, err := a.Allow(ctx, Request{Action: ActionRead, RequesterID: "health", OwnerID: "health"})
	return err
}
