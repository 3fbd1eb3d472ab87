// Package planner implements C5: walking manifests in topological order
// and their intents in declaration order, comparing current state to
// desired state, and emitting a Plan of classified PlanOps. The planner
// never mutates the filesystem or host.
package planner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/manifest"
	"github.com/keronhq/keron/internal/planner/pkgmgr"
	"github.com/keronhq/keron/internal/render"
)

// Planner computes a Plan from an ordered list of manifests.
type Planner struct {
	pkgmgrs *pkgmgr.Registry
	logger  zerolog.Logger
}

// New returns a Planner dispatching package operations through registry
// that logs via logger.
func New(registry *pkgmgr.Registry, logger zerolog.Logger) *Planner {
	return &Planner{pkgmgrs: registry, logger: logger}
}

// Plan walks ordered (already topologically sorted by internal/graph) and
// returns the resulting Plan. It does not invoke the policy guardrail;
// callers run that as a separate stage over the returned Plan.
func (p *Planner) Plan(ctx context.Context, ordered []*manifest.Manifest) (*manifest.Plan, error) {
	plan := &manifest.Plan{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}

	var seq uint64
	for _, m := range ordered {
		dir := filepath.Dir(string(m.ID))
		for _, intent := range m.Intents {
			switch intent.Kind {
			case manifest.KindLink:
				seq++
				plan.Ops = append(plan.Ops, p.planLink(seq, m.ID, dir, intent.Link))
			case manifest.KindTemplate:
				seq++
				plan.Ops = append(plan.Ops, p.planTemplate(seq, m.ID, dir, intent.Template))
			case manifest.KindPackages:
				for _, name := range intent.Packages.Names {
					seq++
					plan.Ops = append(plan.Ops, p.planPackage(ctx, seq, m.ID, intent.Packages, name))
				}
			case manifest.KindCmd:
				seq++
				plan.Ops = append(plan.Ops, p.planCmd(seq, m.ID, intent.Cmd))
			}
		}
	}

	plan.Recompute()
	p.logger.Debug().Int("ops", len(plan.Ops)).Str("plan_id", plan.ID).Msg("plan computed")
	return plan, nil
}

func (p *Planner) planLink(seq uint64, origin manifest.ID, dir string, li *manifest.LinkIntent) manifest.PlanOp {
	op := manifest.PlanOp{Seq: seq, Origin: origin, Kind: manifest.OpKindLink, Link: li}

	src := li.Src
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}
	if _, err := os.Lstat(src); err != nil {
		op.Classification = manifest.Conflict
		op.Reason = manifest.ReasonSourceMissing
		op.Detail = src + " does not exist"
		return op
	}

	info, err := os.Lstat(li.Dest)
	if err != nil {
		if !os.IsNotExist(err) {
			op.Classification = manifest.Error
			op.Reason = manifest.ReasonSourceMissing
			op.Detail = err.Error()
			return op
		}
		parent := filepath.Dir(li.Dest)
		if _, perr := os.Stat(parent); perr != nil {
			if li.MkDirs {
				op.Classification = manifest.Change
				op.Reason = manifest.ReasonCreateDirsAndLink
			} else {
				op.Classification = manifest.Conflict
				op.Reason = manifest.ReasonParentMissing
				op.Detail = parent + " does not exist"
			}
			return op
		}
		op.Classification = manifest.Change
		op.Reason = manifest.ReasonCreateLink
		return op
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, terr := os.Readlink(li.Dest)
		if terr == nil {
			canonical := target
			if !filepath.IsAbs(canonical) {
				canonical = filepath.Join(filepath.Dir(li.Dest), canonical)
			}
			if sameFile(canonical, src) {
				op.Classification = manifest.Unchanged
				return op
			}
		}
	}

	if li.Force {
		op.Classification = manifest.Change
		op.Reason = manifest.ReasonReplaceWithLink
	} else {
		op.Classification = manifest.Conflict
		op.Reason = manifest.ReasonDestOccupied
		op.Detail = li.Dest + " already exists"
	}
	return op
}

func sameFile(a, b string) bool {
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return filepath.Clean(ca) == filepath.Clean(cb)
}

func (p *Planner) planTemplate(seq uint64, origin manifest.ID, dir string, ti *manifest.TemplateIntent) manifest.PlanOp {
	op := manifest.PlanOp{Seq: seq, Origin: origin, Kind: manifest.OpKindTemplate, Template: ti}

	src := ti.Src
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}
	srcText, err := os.ReadFile(src)
	if err != nil {
		op.Classification = manifest.Error
		op.Reason = manifest.ReasonTemplateRenderFailed
		op.Detail = err.Error()
		return op
	}

	rendered, err := render.Render(string(origin), string(srcText), ti.Vars)
	if err != nil {
		op.Classification = manifest.Error
		op.Reason = manifest.ReasonTemplateRenderFailed
		op.Detail = err.Error()
		return op
	}

	existing, err := os.ReadFile(ti.Dest)
	if err != nil {
		if !os.IsNotExist(err) {
			op.Classification = manifest.Error
			op.Reason = manifest.ReasonTemplateRenderFailed
			op.Detail = err.Error()
			return op
		}
		parent := filepath.Dir(ti.Dest)
		if _, perr := os.Stat(parent); perr != nil && !ti.MkDirs {
			op.Classification = manifest.Conflict
			op.Reason = manifest.ReasonParentMissing
			op.Detail = parent + " does not exist"
			return op
		}
		op.Classification = manifest.Change
		op.Reason = manifest.ReasonCreateFile
		return op
	}

	if string(existing) == string(rendered) {
		op.Classification = manifest.Unchanged
		return op
	}

	if ti.Force {
		op.Classification = manifest.Change
		op.Reason = manifest.ReasonRewriteFile
	} else {
		op.Classification = manifest.Conflict
		op.Reason = manifest.ReasonDestOccupied
		op.Detail = ti.Dest + " differs from rendered content"
	}
	return op
}

func (p *Planner) planPackage(ctx context.Context, seq uint64, origin manifest.ID, pi *manifest.PackagesIntent, name string) manifest.PlanOp {
	op := manifest.PlanOp{
		Seq:         seq,
		Origin:      origin,
		Kind:        manifest.OpKindPackage,
		Manager:     pi.Manager,
		State:       pi.State,
		PackageName: name,
	}

	adapter, ok := p.pkgmgrs.Get(pi.Manager)
	if !ok {
		op.Classification = manifest.Error
		op.Reason = manifest.ReasonPackageManagerUnavailable
		op.Detail = "no adapter registered for manager " + pi.Manager
		return op
	}

	installed, err := adapter.Probe(ctx, name)
	if err != nil {
		op.Classification = manifest.Error
		op.Reason = manifest.ReasonPackageManagerUnavailable
		op.Detail = err.Error()
		return op
	}

	wantPresent := pi.State == manifest.PackagePresent
	if installed == wantPresent {
		op.Classification = manifest.Unchanged
		return op
	}

	op.Classification = manifest.Change
	if wantPresent {
		op.Reason = manifest.ReasonInstallPackage
	} else {
		op.Reason = manifest.ReasonRemovePackage
	}
	return op
}

func (p *Planner) planCmd(seq uint64, origin manifest.ID, ci *manifest.CmdIntent) manifest.PlanOp {
	return manifest.PlanOp{
		Seq:            seq,
		Origin:         origin,
		Kind:           manifest.OpKindCmd,
		Classification: manifest.Change,
		Reason:         manifest.ReasonRunCommand,
		Cmd:            ci,
	}
}
