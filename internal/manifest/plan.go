package manifest

import (
	"time"
)

// OpKind mirrors ResourceIntent, flattened: a Packages intent with N
// names produces N PlanOps, one per OpKindPackage entry.
type OpKind string

const (
	OpKindLink     OpKind = "link"
	OpKindTemplate OpKind = "template"
	OpKindPackage  OpKind = "package"
	OpKindCmd      OpKind = "cmd"
)

// Classification is the drift classification assigned to a PlanOp.
type Classification string

const (
	Unchanged Classification = "unchanged"
	Change    Classification = "change"
	Conflict  Classification = "conflict"
	Error     Classification = "error"
)

// Reason is a structured, stable tag explaining a PlanOp's
// classification, carried alongside a human-readable Detail string so
// both machine consumers (JSON reporter, tests) and humans (text
// reporter) get a precise answer.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonCreateLink          Reason = "create_link"
	ReasonCreateDirsAndLink   Reason = "create_dirs_and_link"
	ReasonReplaceWithLink     Reason = "replace_with_link"
	ReasonSourceMissing       Reason = "source_missing"
	ReasonParentMissing       Reason = "parent_missing"
	ReasonDestOccupied        Reason = "dest_occupied"
	ReasonCreateFile          Reason = "create_file"
	ReasonRewriteFile         Reason = "rewrite_file"
	ReasonTemplateRenderFailed Reason = "template_render_failed"
	ReasonInstallPackage      Reason = "install_package"
	ReasonRemovePackage       Reason = "remove_package"
	ReasonPackageManagerUnavailable Reason = "package_manager_unavailable"
	ReasonRunCommand          Reason = "run_command"
	ReasonPolicyDenied        Reason = "policy_denied"
)

// PlanOp is one concrete filesystem/host operation derived from a
// ResourceIntent during planning. Seq is monotonically increasing in
// the order the applier must execute ops.
type PlanOp struct {
	Seq            uint64
	Origin         ID
	Kind           OpKind
	Classification Classification
	Reason         Reason
	Detail         string

	// PackageName is populated only for OpKindPackage, naming which
	// entry of the originating Packages intent this op expands.
	PackageName string

	Link     *LinkIntent
	Template *TemplateIntent
	Cmd      *CmdIntent

	// Manager is populated only for OpKindPackage.
	Manager string
	State   PackageState
}

// PlanSummary aggregates op counts by classification, used for exit
// status derivation (spec §6) and for reporter output.
type PlanSummary struct {
	Total     int
	Unchanged int
	Change    int
	Conflict  int
	Error     int
}

// Plan is the ordered output of the planner: a sequence of PlanOps plus
// aggregate counters. It never mutates the filesystem by itself.
type Plan struct {
	ID        string
	CreatedAt time.Time
	Ops       []PlanOp
	Summary   PlanSummary
}

// HasDrift reports whether any op is not Unchanged.
func (p *Plan) HasDrift() bool {
	return p.Summary.Change > 0 || p.Summary.Conflict > 0 || p.Summary.Error > 0
}

// Recompute recalculates Summary from Ops. Call after appending ops or
// after a guardrail reclassifies an op in place.
func (p *Plan) Recompute() {
	s := PlanSummary{Total: len(p.Ops)}
	for _, op := range p.Ops {
		switch op.Classification {
		case Unchanged:
			s.Unchanged++
		case Change:
			s.Change++
		case Conflict:
			s.Conflict++
		case Error:
			s.Error++
		}
	}
	p.Summary = s
}

// OutcomeStatus is the terminal state of a single applied PlanOp.
type OutcomeStatus string

const (
	OutcomeOk      OutcomeStatus = "ok"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// ApplyOutcome records what actually happened when the applier acted on
// (or deliberately skipped) a PlanOp.
type ApplyOutcome struct {
	Seq    uint64
	Status OutcomeStatus
	Reason string
}

// ApplyResult is the full record of an apply run, in op order.
type ApplyResult struct {
	Outcomes []ApplyOutcome
	// Halted is true if the applier stopped early after a Failed op
	// (spec §4.6: the applier stops at the first Failed op) or because
	// its context was cancelled before the next op.
	Halted bool
}

// MarshalSummary renders the summary as a small JSON-friendly map, used
// by internal/report.
func (s PlanSummary) MarshalSummary() map[string]int {
	return map[string]int{
		"total":     s.Total,
		"unchanged": s.Unchanged,
		"change":    s.Change,
		"conflict":  s.Conflict,
		"error":     s.Error,
	}
}
