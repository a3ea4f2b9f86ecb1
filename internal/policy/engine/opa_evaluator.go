package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const hintResetQuery = "data.pses.hint_reset.allow"

// DefaultHintResetPolicy allows a hint reset when the caller is the account's own external
// identity, or proves a verified email equal to the account email.
const DefaultHintResetPolicy = `package pses.hint_reset

default allow := false

allow if {
	input.identity.verified
	input.identity.external_id != ""
	input.identity.external_id == input.account.external_id
}

allow if {
	input.identity.verified
	input.identity.email_verified
	input.identity.email != ""
	lower(input.identity.email) == lower(input.account.email)
}
`

// OPAEvaluator evaluates the hint-reset policy with an in-process OPA Rego engine.
// The query is prepared once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultHintResetPolicy when empty) and prepares the allow query.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultHintResetPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"hint_reset.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile hint reset policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(hintResetQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare hint reset policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// HealthCheck evaluates the prepared query against an empty request and expects a boolean.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, buildInput(HintResetInput{}))
	return err
}

// AllowHintReset evaluates the policy. Errors and non-boolean results deny.
func (e *OPAEvaluator) AllowHintReset(ctx context.Context, in HintResetInput) (bool, error) {
	allowed, err := e.eval(ctx, buildInput(in))
	if err != nil {
		slog.Warn("hint reset policy evaluation failed", "error", err)
		return false, err
	}
	return allowed, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval hint reset policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy query returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allowed, nil
}

func buildInput(in HintResetInput) map[string]interface{} {
	identity := map[string]interface{}{
		"external_id":      "",
		"email":            "",
		"email_verified":   false,
		"phone_number":     "",
		"sign_in_provider": "",
		"verified":         false,
	}
	if in.Identity != nil {
		identity["external_id"] = in.Identity.ExternalID
		identity["email"] = in.Identity.Email
		identity["email_verified"] = in.Identity.EmailVerified
		identity["phone_number"] = in.Identity.PhoneNumber
		identity["sign_in_provider"] = in.Identity.SignInProvider
		identity["verified"] = in.Identity.IsVerified()
	}
	return map[string]interface{}{
		"identity": identity,
		"account": map[string]interface{}{
			"username":    in.Account.Username,
			"external_id": in.Account.ExternalID,
			"email":       in.Account.Email,
			"verified":    in.Account.Verified,
		},
		"hint": map[string]interface{}{
			"email":    in.HintEmail,
			"username": in.HintUser,
		},
	}
}
