package telemetry

import (
	"context"
	"testing"

	"github.com/keronhq/keron/internal/manifest"
)

func TestNewTracerDisabledIsNoop(t *testing.T) {
	tr, err := NewTracer(false)
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	_, span := tr.StartStage(context.Background(), "plan")
	End(span, nil)
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestMetricsObservePlanAndApply(t *testing.T) {
	m := NewMetrics()
	plan := &manifest.Plan{Ops: []manifest.PlanOp{
		{Kind: manifest.OpKindLink, Classification: manifest.Change},
		{Kind: manifest.OpKindCmd, Classification: manifest.Unchanged},
	}}
	m.ObservePlan(plan)

	result := &manifest.ApplyResult{Outcomes: []manifest.ApplyOutcome{
		{Status: manifest.OutcomeOk},
		{Status: manifest.OutcomeSkipped},
	}}
	m.ObserveApply(result)

	snap := m.Snapshot()
	if len(snap) == 0 {
		t.Fatal("expected non-empty metrics snapshot")
	}
}
