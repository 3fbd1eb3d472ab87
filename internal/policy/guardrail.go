// Package policy implements the optional plan-gating guardrail: Rego
// policies evaluated over a Plan's ops before --execute proceeds. A
// denial downgrades the op's classification to Conflict(PolicyDenied)
// rather than aborting planning.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/manifest"
)

// opInput is the shape fed to each Rego policy's input.
type opInput struct {
	Kind         string `json:"kind"`
	Force        bool   `json:"force"`
	Dest         string `json:"dest,omitempty"`
	Manager      string `json:"manager,omitempty"`
	PackageState string `json:"package_state,omitempty"`
}

// compiledPolicy is a named Rego module ready to evaluate.
type compiledPolicy struct {
	name   string
	module string
}

// Guardrail evaluates built-in and user-supplied Rego policies against
// each PlanOp.
type Guardrail struct {
	logger   zerolog.Logger
	policies []compiledPolicy
}

// New returns a Guardrail pre-loaded with the built-in policies.
func New(logger zerolog.Logger) *Guardrail {
	return &Guardrail{
		logger:   logger.With().Str("component", "policy-guardrail").Logger(),
		policies: builtinPolicies(),
	}
}

// LoadFile parses an additional user-supplied .rego file and appends it
// to the set of policies evaluated against every op.
func (g *Guardrail) LoadFile(name, rego string) error {
	if _, err := ast.ParseModule(name, rego); err != nil {
		return fmt.Errorf("parsing policy %s: %w", name, err)
	}
	g.policies = append(g.policies, compiledPolicy{name: name, module: rego})
	return nil
}

// Apply evaluates every policy against each op in plan and, for any
// policy that denies an op, reclassifies it to Conflict(PolicyDenied).
// It never aborts or returns an error for a denial — planning still
// succeeds, with the denial surfaced as ordinary drift.
func (g *Guardrail) Apply(ctx context.Context, plan *manifest.Plan) error {
	for i := range plan.Ops {
		op := &plan.Ops[i]
		if op.Classification != manifest.Change {
			continue
		}

		denied, reason, err := g.evaluate(ctx, op)
		if err != nil {
			g.logger.Warn().Err(err).Uint64("seq", op.Seq).Msg("policy evaluation failed, allowing op")
			continue
		}
		if denied {
			op.Classification = manifest.Conflict
			op.Reason = manifest.ReasonPolicyDenied
			op.Detail = reason
		}
	}
	plan.Recompute()
	return nil
}

func (g *Guardrail) evaluate(ctx context.Context, op *manifest.PlanOp) (bool, string, error) {
	input := toOpInput(op)

	for _, p := range g.policies {
		query := fmt.Sprintf("data.%s.deny", packageName(p.module))
		r := rego.New(
			rego.Module(p.name, p.module),
			rego.Query(query),
			rego.Input(input),
		)

		results, err := r.Eval(ctx)
		if err != nil {
			return false, "", fmt.Errorf("evaluating policy %s: %w", p.name, err)
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				if denials, ok := expr.Value.([]interface{}); ok && len(denials) > 0 {
					return true, fmt.Sprintf("%v", denials[0]), nil
				}
			}
		}
	}
	return false, "", nil
}

func toOpInput(op *manifest.PlanOp) opInput {
	in := opInput{Kind: string(op.Kind)}
	switch op.Kind {
	case manifest.OpKindLink:
		if op.Link != nil {
			in.Force = op.Link.Force
			in.Dest = op.Link.Dest
		}
	case manifest.OpKindTemplate:
		if op.Template != nil {
			in.Force = op.Template.Force
			in.Dest = op.Template.Dest
		}
	case manifest.OpKindPackage:
		in.Manager = op.Manager
		in.PackageState = string(op.State)
	}
	return in
}

func packageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "package "))
		}
	}
	return "keron.policies"
}
