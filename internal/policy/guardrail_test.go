package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/manifest"
)

func TestApplyDeniesForceUnderProtectedPath(t *testing.T) {
	g := New(zerolog.Nop())
	plan := &manifest.Plan{
		Ops: []manifest.PlanOp{
			{
				Seq:            1,
				Kind:           manifest.OpKindLink,
				Classification: manifest.Change,
				Link:           &manifest.LinkIntent{Dest: "/etc/hosts", Force: true},
			},
		},
	}
	plan.Recompute()

	if err := g.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if plan.Ops[0].Classification != manifest.Conflict {
		t.Errorf("classification = %v, want Conflict", plan.Ops[0].Classification)
	}
	if plan.Ops[0].Reason != manifest.ReasonPolicyDenied {
		t.Errorf("reason = %v, want PolicyDenied", plan.Ops[0].Reason)
	}
}

func TestApplyAllowsUnprotectedForce(t *testing.T) {
	g := New(zerolog.Nop())
	plan := &manifest.Plan{
		Ops: []manifest.PlanOp{
			{
				Seq:            1,
				Kind:           manifest.OpKindLink,
				Classification: manifest.Change,
				Link:           &manifest.LinkIntent{Dest: "/home/user/.zshrc", Force: true},
			},
		},
	}
	plan.Recompute()

	if err := g.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if plan.Ops[0].Classification != manifest.Change {
		t.Errorf("classification = %v, want Change (unaffected)", plan.Ops[0].Classification)
	}
}

func TestApplyDeniesPackageRemoval(t *testing.T) {
	g := New(zerolog.Nop())
	plan := &manifest.Plan{
		Ops: []manifest.PlanOp{
			{
				Seq:            1,
				Kind:           manifest.OpKindPackage,
				Classification: manifest.Change,
				Manager:        "brew",
				State:          manifest.PackageAbsent,
			},
		},
	}
	plan.Recompute()

	if err := g.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if plan.Ops[0].Classification != manifest.Conflict {
		t.Errorf("classification = %v, want Conflict", plan.Ops[0].Classification)
	}
}

func TestApplyLeavesUnchangedAndConflictOpsAlone(t *testing.T) {
	g := New(zerolog.Nop())
	plan := &manifest.Plan{
		Ops: []manifest.PlanOp{
			{Seq: 1, Kind: manifest.OpKindCmd, Classification: manifest.Unchanged},
			{
				Seq:            2,
				Kind:           manifest.OpKindLink,
				Classification: manifest.Conflict,
				Reason:         manifest.ReasonDestOccupied,
				Link:           &manifest.LinkIntent{Dest: "/etc/hosts", Force: true},
			},
		},
	}
	plan.Recompute()

	if err := g.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if plan.Ops[0].Classification != manifest.Unchanged {
		t.Errorf("classification = %v, want Unchanged", plan.Ops[0].Classification)
	}
	if plan.Ops[1].Classification != manifest.Conflict || plan.Ops[1].Reason != manifest.ReasonDestOccupied {
		t.Errorf("op[1] = %v/%v, want Conflict/DestOccupied", plan.Ops[1].Classification, plan.Ops[1].Reason)
	}
}
